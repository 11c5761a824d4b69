package router

import (
	"context"
	"errors"
	"time"
)

// EventKind selects the route table an event is dispatched against.
type EventKind string

const (
	KindCommand  EventKind = "command"
	KindMessage  EventKind = "message"
	KindDocument EventKind = "document"
	KindImage    EventKind = "image"
)

var (
	ErrNilHandler   = errors.New("route handler is nil")
	ErrUnknownKind  = errors.New("unknown event kind")
	ErrHandlerPanic = errors.New("route handler panicked")
)

// Identity is the sender as reported by the transport.
type Identity struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
}

// Attachment is the metadata of a file or image carried by an event.
type Attachment struct {
	Name   string
	Mime   string
	Size   int64
	FileID string
	URL    string
}

// Event is one inbound update, already parsed by the transport.
type Event struct {
	ID          string
	Kind        EventKind
	Channel     string
	Sender      Identity
	Text        string
	Attachments []Attachment
	ReplyTarget string
	MessageID   string
	ReceivedAt  time.Time
}

// User is the sender together with the state and roles resolved for this event.
type User struct {
	Identity
	State       string
	StateParams map[string]any
	Roles       []string
	// Known is false when the baseline identity was substituted.
	Known bool
}

// Replier sends text back to the conversation an event came from.
type Replier interface {
	Reply(ctx context.Context, text string) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, text string) error

func (f ReplierFunc) Reply(ctx context.Context, text string) error {
	return f(ctx, text)
}

type discardReplier struct{}

func (discardReplier) Reply(context.Context, string) error { return nil }

// Request is what a route handler receives.
type Request struct {
	Event Event
	User  User
	// Command and Args are set for command events.
	Command string
	Args    []string
	Reply   Replier
}

// HandlerFunc processes one matched event.
type HandlerFunc func(ctx context.Context, req Request) error

// RouteObserver is notified of every registered route. Transports use it to
// mirror routes into platform features such as a command menu.
type RouteObserver interface {
	ObserveRoute(kind, trigger string)
}

// RouteInfo describes a registered route.
type RouteInfo struct {
	Kind    EventKind `json:"kind"`
	Trigger string    `json:"trigger"`
	States  []string  `json:"states,omitempty"`
	Roles   []string  `json:"roles,omitempty"`
}
