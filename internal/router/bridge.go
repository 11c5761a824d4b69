package router

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/statebot/internal/channel"
)

// HandleInbound converts a transport message into an Event and dispatches it.
// Replies are sent back to the message's reply target through sender.
func (r *Router) HandleInbound(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, sender channel.ReplySender) error {
	ev := EventFromInbound(msg)
	if ev.Channel == "" {
		ev.Channel = cfg.ChannelType.String()
	}
	var replier Replier = discardReplier{}
	if sender != nil && strings.TrimSpace(msg.ReplyTarget) != "" {
		replier = ReplierFunc(func(ctx context.Context, text string) error {
			out := channel.Message{Text: text}
			if ev.MessageID != "" {
				out.Reply = &channel.ReplyRef{Target: msg.ReplyTarget, MessageID: ev.MessageID}
			}
			return sender.Send(ctx, channel.OutboundMessage{Target: msg.ReplyTarget, Message: out})
		})
	}
	return r.DispatchWithReply(ctx, ev, replier)
}

// EventFromInbound classifies msg and copies what routes need. Any image
// makes it an image event, any other attachment a document event; text
// starting with "/" is a command and everything else a message.
func EventFromInbound(msg channel.InboundMessage) Event {
	ev := Event{
		ID:          strings.TrimSpace(msg.Message.ID),
		Kind:        inboundKind(msg.Message),
		Channel:     msg.Channel.String(),
		Text:        strings.TrimSpace(msg.Message.PlainText()),
		ReplyTarget: msg.ReplyTarget,
		MessageID:   strings.TrimSpace(msg.Message.ID),
		ReceivedAt:  msg.ReceivedAt,
		Sender: Identity{
			ID:        strings.TrimSpace(msg.Sender.SubjectID),
			Username:  msg.Sender.Attribute(channel.AttrUsername),
			FirstName: msg.Sender.Attribute(channel.AttrFirstName),
			LastName:  msg.Sender.Attribute(channel.AttrLastName),
		},
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	for _, att := range msg.Message.Attachments {
		ev.Attachments = append(ev.Attachments, Attachment{
			Name:   att.Name,
			Mime:   att.Mime,
			Size:   att.Size,
			FileID: att.PlatformKey,
			URL:    att.URL,
		})
	}
	return ev
}

func inboundKind(msg channel.Message) EventKind {
	if len(msg.Attachments) > 0 {
		for _, att := range msg.Attachments {
			if att.Type == channel.AttachmentImage {
				return KindImage
			}
		}
		return KindDocument
	}
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		return KindCommand
	}
	return KindMessage
}
