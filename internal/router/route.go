package router

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// DefaultMessagePattern matches any text, including multi-line text.
const DefaultMessagePattern = `(?s).*`

// Access restricts a route to states and roles. Empty lists allow anything.
type Access struct {
	States []string
	Roles  []string
}

// Allows reports whether a user in state holding roles may use the route.
func (a Access) Allows(state string, roles []string) bool {
	if len(a.States) > 0 && !slices.Contains(a.States, state) {
		return false
	}
	if len(a.Roles) == 0 {
		return true
	}
	for _, role := range roles {
		if slices.Contains(a.Roles, role) {
			return true
		}
	}
	return false
}

// CommandRoute fires on a command token such as "/start" or "/start@bot".
type CommandRoute struct {
	Command string
	Access
	Handler HandlerFunc
}

// MessageRoute fires when the whole message text matches Pattern.
type MessageRoute struct {
	Pattern string
	Access
	Handler HandlerFunc
}

// DocumentRoute fires on a document whose name and mime type are allowed.
type DocumentRoute struct {
	FileNames []string
	MimeTypes []string
	Access
	Handler HandlerFunc
}

// ImageRoute fires on an image whose name and mime type are allowed.
type ImageRoute struct {
	FileNames []string
	MimeTypes []string
	Access
	Handler HandlerFunc
}

type route struct {
	kind    EventKind
	trigger string
	access  Access
	handler HandlerFunc

	command   string
	pattern   *regexp.Regexp
	fileNames []string
	mimeTypes []string
}

func newCommandRoute(r CommandRoute) (*route, error) {
	if r.Handler == nil {
		return nil, ErrNilHandler
	}
	command := strings.TrimPrefix(strings.TrimSpace(r.Command), "/")
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	return &route{
		kind:    KindCommand,
		trigger: command,
		access:  cloneAccess(r.Access),
		handler: r.Handler,
		command: command,
	}, nil
}

func newMessageRoute(r MessageRoute) (*route, error) {
	if r.Handler == nil {
		return nil, ErrNilHandler
	}
	pattern := r.Pattern
	if pattern == "" {
		pattern = DefaultMessagePattern
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compile message pattern %q: %w", pattern, err)
	}
	return &route{
		kind:    KindMessage,
		trigger: pattern,
		access:  cloneAccess(r.Access),
		handler: r.Handler,
		pattern: re,
	}, nil
}

func newAttachmentRoute(kind EventKind, names, mimes []string, access Access, handler HandlerFunc) (*route, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	return &route{
		kind:      kind,
		trigger:   attachmentTrigger(names, mimes),
		access:    cloneAccess(access),
		handler:   handler,
		fileNames: slices.Clone(names),
		mimeTypes: slices.Clone(mimes),
	}, nil
}

func (r *route) matches(ev Event, command string) bool {
	switch r.kind {
	case KindCommand:
		return command == r.command
	case KindMessage:
		return r.pattern.MatchString(ev.Text)
	case KindDocument, KindImage:
		return r.matchAttachments(ev.Attachments)
	}
	return false
}

func (r *route) matchAttachments(attachments []Attachment) bool {
	if len(r.fileNames) == 0 && len(r.mimeTypes) == 0 {
		return true
	}
	for _, att := range attachments {
		if allowed(r.fileNames, att.Name) && allowed(r.mimeTypes, att.Mime) {
			return true
		}
	}
	return false
}

func (r *route) info() RouteInfo {
	return RouteInfo{
		Kind:    r.kind,
		Trigger: r.trigger,
		States:  slices.Clone(r.access.States),
		Roles:   slices.Clone(r.access.Roles),
	}
}

func allowed(list []string, value string) bool {
	return len(list) == 0 || slices.Contains(list, value)
}

func attachmentTrigger(names, mimes []string) string {
	if len(names) == 0 && len(mimes) == 0 {
		return "*"
	}
	parts := make([]string, 0, 2)
	if len(names) > 0 {
		parts = append(parts, "names="+strings.Join(names, ","))
	}
	if len(mimes) > 0 {
		parts = append(parts, "mimes="+strings.Join(mimes, ","))
	}
	return strings.Join(parts, ";")
}

func cloneAccess(a Access) Access {
	return Access{States: slices.Clone(a.States), Roles: slices.Clone(a.Roles)}
}

// ParseCommand splits command text into its token and arguments. One leading
// "/" and a trailing "@botname" are removed from the token.
func ParseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	token := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return token, fields[1:]
}
