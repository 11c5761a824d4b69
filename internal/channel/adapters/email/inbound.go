package email

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-imap/v2"
	_ "github.com/emersion/go-message/charset"
	mailmsg "github.com/emersion/go-message/mail"

	"github.com/memohai/statebot/internal/channel"
)

const maxBodyBytes = 64 << 10

// toInboundMessage converts a fetched envelope and its raw RFC 5322 message.
// The plain text part becomes the message text, falling back to the subject.
func toInboundMessage(env *imap.Envelope, raw []byte) (channel.InboundMessage, bool) {
	if env == nil || len(env.From) == 0 {
		return channel.InboundMessage{}, false
	}
	from := env.From[0]
	addr := strings.ToLower(from.Addr())
	if addr == "" {
		return channel.InboundMessage{}, false
	}
	text, attachments := parseBody(raw)
	if text == "" {
		text = strings.TrimSpace(env.Subject)
	}
	msg := channel.Message{
		ID:          env.MessageID,
		Text:        text,
		Attachments: attachments,
	}
	if len(env.InReplyTo) > 0 {
		msg.Reply = &channel.ReplyRef{Target: addr, MessageID: env.InReplyTo[0]}
	}
	for i := range msg.Attachments {
		msg.Attachments[i].PlatformKey = env.MessageID + "/" + msg.Attachments[i].Name
	}
	if msg.IsEmpty() {
		return channel.InboundMessage{}, false
	}

	displayName := strings.TrimSpace(from.Name)
	if displayName == "" {
		displayName = addr
	}
	attrs := map[string]string{channel.AttrUsername: from.Mailbox}
	if first, last, ok := strings.Cut(displayName, " "); ok && from.Name != "" {
		attrs[channel.AttrFirstName] = first
		attrs[channel.AttrLastName] = strings.TrimSpace(last)
	} else if from.Name != "" {
		attrs[channel.AttrFirstName] = displayName
	}
	return channel.InboundMessage{
		Channel:     Type,
		Message:     msg,
		ReplyTarget: addr,
		Sender: channel.Identity{
			SubjectID:   addr,
			DisplayName: displayName,
			Attributes:  attrs,
		},
		Conversation: channel.Conversation{
			ID:   addr,
			Type: conversationType,
			Name: env.Subject,
		},
		ReceivedAt: env.Date,
	}, true
}

// parseBody returns the first text/plain part and the attachment headers of a
// raw message. Quoted reply lines are dropped from the text.
func parseBody(raw []byte) (string, []channel.Attachment) {
	if len(raw) == 0 {
		return "", nil
	}
	r, err := mailmsg.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil
	}
	defer r.Close()

	var text string
	var attachments []channel.Attachment
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		switch h := part.Header.(type) {
		case *mailmsg.InlineHeader:
			contentType, _, _ := h.ContentType()
			if text != "" || (contentType != "" && contentType != "text/plain") {
				continue
			}
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if err != nil {
				continue
			}
			text = stripQuoted(string(body))
		case *mailmsg.AttachmentHeader:
			name, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			attachments = append(attachments, channel.Attachment{
				Type: attachmentType(contentType),
				Name: name,
				Mime: contentType,
			})
		}
	}
	return text, attachments
}

func stripQuoted(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func attachmentType(contentType string) channel.AttachmentType {
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		media = contentType
	}
	switch {
	case media == "image/gif":
		return channel.AttachmentGIF
	case strings.HasPrefix(media, "image/"):
		return channel.AttachmentImage
	case strings.HasPrefix(media, "video/"):
		return channel.AttachmentVideo
	case strings.HasPrefix(media, "audio/"):
		return channel.AttachmentAudio
	default:
		return channel.AttachmentFile
	}
}
