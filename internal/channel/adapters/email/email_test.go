package email

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"github.com/memohai/statebot/internal/channel"
)

func testCredentials() map[string]any {
	return map[string]any{
		"username":  "bot@example.com",
		"password":  "secret",
		"smtp_host": "smtp.example.com",
		"imap_host": "imap.example.com",
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(testCredentials())
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", cfg.From)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.Equal(t, securityStartTLS, cfg.SMTPSecurity)
	assert.Equal(t, securityTLS, cfg.IMAPSecurity)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)

	raw := testCredentials()
	raw["smtp_port"] = float64(465)
	raw["poll_interval_seconds"] = 60
	raw["from"] = "Bot <bot@example.com>"
	cfg, err = parseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, 465, cfg.SMTPPort)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, "Bot <bot@example.com>", cfg.From)

	for _, key := range []string{"username", "password", "smtp_host", "imap_host"} {
		raw := testCredentials()
		delete(raw, key)
		_, err := parseConfig(raw)
		assert.Error(t, err, key)
	}
	raw = testCredentials()
	raw["imap_security"] = "ssl"
	_, err = parseConfig(raw)
	assert.Error(t, err)
	raw = testCredentials()
	raw["imap_port"] = "abc"
	_, err = parseConfig(raw)
	assert.Error(t, err)
}

func TestDescriptor(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	assert.Equal(t, Type, a.Type())
	desc := a.Descriptor()
	assert.True(t, desc.Capabilities.Reply)
	assert.False(t, desc.Capabilities.Commands)
}

func TestSendBuildsMessage(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	var sent []outgoing
	a.transports[transportSMTP] = func(_ context.Context, cfg Config, out outgoing) error {
		assert.Equal(t, "smtp.example.com", cfg.SMTPHost)
		sent = append(sent, out)
		return nil
	}
	err := a.Send(context.Background(), channel.ChannelConfig{ID: "mail", Credentials: testCredentials()}, channel.OutboundMessage{
		Target: "alice@example.com, bob@example.com",
		Message: channel.Message{
			Text:        "hello",
			Attachments: []channel.Attachment{{URL: "https://cdn/a.png", Caption: "pic"}},
			Reply:       &channel.ReplyRef{MessageID: "<m0@example.com>"},
		},
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, outgoing{
		From:      "bot@example.com",
		To:        []string{"alice@example.com", "bob@example.com"},
		Subject:   "Re: statebot",
		Body:      "hello\npic\nhttps://cdn/a.png",
		InReplyTo: "<m0@example.com>",
	}, sent[0])
}

func TestSendUsesConfiguredTransport(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	var used []string
	for _, name := range []string{transportSMTP, transportMailgun} {
		a.transports[name] = func(context.Context, Config, outgoing) error {
			used = append(used, name)
			return nil
		}
	}
	creds := testCredentials()
	delete(creds, "smtp_host")
	creds["transport"] = "Mailgun"
	creds["mailgun_domain"] = "mg.example.com"
	creds["mailgun_api_key"] = "key"
	cfg := channel.ChannelConfig{ID: "mail", Credentials: creds}
	require.NoError(t, a.Send(context.Background(), cfg, channel.OutboundMessage{Target: "a@example.com", Message: channel.Message{Text: "x"}}))
	assert.Equal(t, []string{transportMailgun}, used)

	delete(creds, "mailgun_api_key")
	assert.Error(t, a.Send(context.Background(), cfg, channel.OutboundMessage{Target: "a@example.com", Message: channel.Message{Text: "x"}}))
}

func TestNewSMTPMsg(t *testing.T) {
	t.Parallel()

	m, err := newSMTPMsg(outgoing{
		From:      "bot@example.com",
		To:        []string{"alice@example.com"},
		Subject:   "Re: statebot",
		Body:      "hello",
		InReplyTo: "<m0@example.com>",
	})
	require.NoError(t, err)
	to := m.GetTo()
	require.Len(t, to, 1)
	assert.Equal(t, "alice@example.com", to[0].Address)
	assert.Equal(t, []string{"<m0@example.com>"}, m.GetGenHeader(gomail.HeaderInReplyTo))

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Subject: Re: statebot")
	assert.Contains(t, buf.String(), "hello")

	_, err = newSMTPMsg(outgoing{From: "not an address", To: []string{"a@example.com"}})
	assert.Error(t, err)
}

func TestSendRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	calls := 0
	a.transports[transportSMTP] = func(context.Context, Config, outgoing) error {
		calls++
		return nil
	}
	cfg := channel.ChannelConfig{ID: "mail", Credentials: testCredentials()}
	ctx := context.Background()
	assert.Error(t, a.Send(ctx, cfg, channel.OutboundMessage{Target: " , ", Message: channel.Message{Text: "x"}}))
	assert.Error(t, a.Send(ctx, cfg, channel.OutboundMessage{Target: "a@example.com"}))
	assert.Error(t, a.Send(ctx, cfg, channel.OutboundMessage{
		Target:  "a@example.com",
		Message: channel.Message{Attachments: []channel.Attachment{{Caption: "no ref"}}},
	}))
	assert.Error(t, a.Send(ctx, channel.ChannelConfig{ID: "mail"}, channel.OutboundMessage{Target: "a@example.com", Message: channel.Message{Text: "x"}}))
	assert.Zero(t, calls)
}

const multipartMail = "From: Alice Liddell <Alice@Example.com>\r\n" +
	"To: bot@example.com\r\n" +
	"Subject: hi\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"/start\r\n" +
	"\r\n" +
	"On Mon, Bot wrote:\r\n" +
	"> old text\r\n" +
	"--XYZ\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: attachment; filename=\"cat.png\"\r\n" +
	"\r\n" +
	"data\r\n" +
	"--XYZ--\r\n"

func TestToInboundMessage(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := &imap.Envelope{
		Date:      ts,
		Subject:   "hi",
		MessageID: "m1@example.com",
		InReplyTo: []string{"m0@example.com"},
		From:      []imap.Address{{Name: "Alice Liddell", Mailbox: "Alice", Host: "Example.com"}},
	}
	got, ok := toInboundMessage(env, []byte(multipartMail))
	require.True(t, ok)
	assert.Equal(t, Type, got.Channel)
	assert.Equal(t, "/start", got.Message.Text)
	assert.Equal(t, "alice@example.com", got.ReplyTarget)
	assert.Equal(t, "alice@example.com", got.Sender.SubjectID)
	assert.Equal(t, "Alice Liddell", got.Sender.DisplayName)
	assert.Equal(t, "Alice", got.Sender.Attribute(channel.AttrFirstName))
	assert.Equal(t, "Liddell", got.Sender.Attribute(channel.AttrLastName))
	assert.Equal(t, "direct", got.Conversation.Type)
	assert.True(t, got.ReceivedAt.Equal(ts))
	require.NotNil(t, got.Message.Reply)
	assert.Equal(t, "m0@example.com", got.Message.Reply.MessageID)
	require.Len(t, got.Message.Attachments, 1)
	assert.Equal(t, channel.AttachmentImage, got.Message.Attachments[0].Type)
	assert.Equal(t, "cat.png", got.Message.Attachments[0].Name)
	assert.Equal(t, "m1@example.com/cat.png", got.Message.Attachments[0].PlatformKey)
}

func TestToInboundMessageFallsBackToSubject(t *testing.T) {
	t.Parallel()

	env := &imap.Envelope{
		Subject: "/help",
		From:    []imap.Address{{Mailbox: "bob", Host: "example.com"}},
	}
	got, ok := toInboundMessage(env, nil)
	require.True(t, ok)
	assert.Equal(t, "/help", got.Message.Text)
	assert.Equal(t, "bob@example.com", got.Sender.DisplayName)
	assert.Empty(t, got.Sender.Attribute(channel.AttrFirstName))

	_, ok = toInboundMessage(&imap.Envelope{From: []imap.Address{{Mailbox: "bob", Host: "example.com"}}}, nil)
	assert.False(t, ok)
	_, ok = toInboundMessage(&imap.Envelope{Subject: "x"}, nil)
	assert.False(t, ok)
}

func TestStripQuoted(t *testing.T) {
	t.Parallel()

	body := "yes\r\n> quoted\r\nmore\r\nOn Tue, Jan 1, Bob wrote:\r\nignored"
	assert.Equal(t, "yes\nmore", stripQuoted(body))
	assert.Equal(t, "", stripQuoted(strings.Repeat("> x\n", 3)))
}

func TestAttachmentType(t *testing.T) {
	t.Parallel()

	cases := map[string]channel.AttachmentType{
		"image/gif":              channel.AttachmentGIF,
		"image/jpeg":             channel.AttachmentImage,
		"video/mp4":              channel.AttachmentVideo,
		"audio/ogg; codecs=opus": channel.AttachmentAudio,
		"application/pdf":        channel.AttachmentFile,
		"":                       channel.AttachmentFile,
	}
	for in, want := range cases {
		assert.Equal(t, want, attachmentType(in), in)
	}
}
