// Package email connects the channel manager to a mailbox. Outbound messages
// are sent over SMTP and inbound mail is read over IMAP, using IDLE when the
// server supports it and polling otherwise.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mailgun/mailgun-go/v5"
	gomail "github.com/wneessen/go-mail"

	"github.com/memohai/statebot/internal/channel"
)

const (
	retryDelay       = 30 * time.Second
	maxIdleRecheck   = 2 * time.Minute
	conversationType = "direct"
)

// Adapter implements channel.Sender and channel.Receiver for email.
type Adapter struct {
	logger     *slog.Logger
	transports map[string]func(ctx context.Context, cfg Config, out outgoing) error
	dial       func(cfg Config, opts *imapclient.Options) (*imapclient.Client, error)
}

// NewAdapter creates an email adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "email")),
		transports: map[string]func(ctx context.Context, cfg Config, out outgoing) error{
			transportSMTP:    sendSMTP,
			transportMailgun: sendMailgun,
		},
		dial: dialIMAP,
	}
}

// Type returns the email channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the email channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Email",
		Capabilities: channel.ChannelCapabilities{
			Text:        true,
			Attachments: true,
			Reply:       true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: 100000,
			RetryMax:       2,
			RetryBackoffMs: 2000,
		},
	}
}

// outgoing is a rendered message ready for a transport.
type outgoing struct {
	From      string
	To        []string
	Subject   string
	Body      string
	InReplyTo string
}

// Send delivers one message to the comma separated addresses in the target.
func (a *Adapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ec, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	out, err := buildOutgoing(ec, msg)
	if err != nil {
		return err
	}
	if err := a.transports[ec.Transport](ctx, ec, out); err != nil {
		a.logger.Error("send failed", slog.String("config_id", cfg.ID), slog.String("transport", ec.Transport), slog.Any("error", err))
		return err
	}
	return nil
}

func buildOutgoing(cfg Config, msg channel.OutboundMessage) (outgoing, error) {
	out := outgoing{From: cfg.From, Subject: cfg.Subject}
	for _, addr := range strings.Split(msg.Target, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out.To = append(out.To, addr)
		}
	}
	if len(out.To) == 0 {
		return outgoing{}, fmt.Errorf("email target is required")
	}
	body, err := renderBody(msg.Message)
	if err != nil {
		return outgoing{}, err
	}
	out.Body = body
	if msg.Message.Reply != nil {
		if id := strings.Trim(strings.TrimSpace(msg.Message.Reply.MessageID), "<>"); id != "" {
			out.InReplyTo = "<" + id + ">"
			out.Subject = "Re: " + out.Subject
		}
	}
	return out, nil
}

// renderBody joins the text with one caption and reference line per attachment.
func renderBody(message channel.Message) (string, error) {
	lines := make([]string, 0, 1+2*len(message.Attachments))
	if text := strings.TrimSpace(message.Text); text != "" {
		lines = append(lines, text)
	}
	for _, att := range message.Attachments {
		ref := att.Reference()
		if ref == "" {
			return "", fmt.Errorf("email attachment requires url or platform key")
		}
		if caption := strings.TrimSpace(att.Caption); caption != "" {
			lines = append(lines, caption)
		}
		lines = append(lines, ref)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("message is required")
	}
	return strings.Join(lines, "\n"), nil
}

func newSMTPMsg(out outgoing) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(out.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(out.To...); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	if out.InReplyTo != "" {
		m.SetGenHeader(gomail.HeaderInReplyTo, out.InReplyTo)
		m.SetGenHeader(gomail.HeaderReferences, out.InReplyTo)
	}
	m.Subject(out.Subject)
	m.SetBodyString(gomail.TypeTextPlain, out.Body)
	m.SetMessageID()
	return m, nil
}

func sendSMTP(ctx context.Context, cfg Config, out outgoing) error {
	m, err := newSMTPMsg(out)
	if err != nil {
		return err
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
	}
	switch cfg.SMTPSecurity {
	case securityTLS:
		opts = append(opts, gomail.WithSSLPort(false), gomail.WithTLSPolicy(gomail.TLSMandatory))
	case securityStartTLS:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}
	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func sendMailgun(ctx context.Context, cfg Config, out outgoing) error {
	client := mailgun.NewMailgun(cfg.MailgunAPIKey)
	if cfg.MailgunRegion == "eu" {
		client.SetAPIBase(mailgun.APIBaseEU)
	}
	m := mailgun.NewMessage(cfg.MailgunDomain, out.From, out.Subject, out.Body, out.To...)
	if out.InReplyTo != "" {
		m.AddHeader("In-Reply-To", out.InReplyTo)
		m.AddHeader("References", out.InReplyTo)
	}
	if _, err := client.Send(ctx, m); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

func dialIMAP(cfg Config, opts *imapclient.Options) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort)
	opts.TLSConfig = &tls.Config{ServerName: cfg.IMAPHost}
	switch cfg.IMAPSecurity {
	case securityStartTLS:
		return imapclient.DialStartTLS(addr, opts)
	case securityNone:
		return imapclient.DialInsecure(addr, opts)
	default:
		return imapclient.DialTLS(addr, opts)
	}
}

// Connect watches the inbox. Mail already present when the connection is
// first established is skipped.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	ec, err := parseConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(ctx)
	w := &watcher{
		logger:  a.logger.With(slog.String("config_id", cfg.ID)),
		cfg:     ec,
		channel: cfg,
		dial:    a.dial,
		handler: handler,
		done:    make(chan struct{}),
	}
	go w.run(connCtx)

	var once sync.Once
	stop := func(stopCtx context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		once.Do(cancel)
		select {
		case <-w.done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
	return channel.NewConnection(cfg, stop), nil
}

type watcher struct {
	logger  *slog.Logger
	cfg     Config
	channel channel.ChannelConfig
	dial    func(cfg Config, opts *imapclient.Options) (*imapclient.Client, error)
	handler channel.InboundHandler
	done    chan struct{}
	primed  bool
	lastUID imap.UID
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		err := w.receive(ctx)
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("imap connection error, retrying", slog.Duration("delay", retryDelay), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (w *watcher) receive(ctx context.Context) error {
	newMail := make(chan struct{}, 1)
	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case newMail <- struct{}{}:
				default:
				}
			},
		},
	}
	client, err := w.dial(w.cfg, opts)
	if err != nil {
		return fmt.Errorf("dial imap (%s): %w", w.cfg.IMAPSecurity, err)
	}
	defer client.Close()

	if err := client.Login(w.cfg.Username, w.cfg.Password).Wait(); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	defer func() { _ = client.Logout().Wait() }()
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}
	w.logger.Info("imap connected", slog.String("host", w.cfg.IMAPHost), slog.Int("port", w.cfg.IMAPPort))
	w.fetch(ctx, client)

	idle, err := client.Idle()
	if err != nil {
		w.logger.Warn("idle not supported, polling", slog.Any("error", err))
		return w.poll(ctx, client)
	}
	recheck := min(w.cfg.PollInterval, maxIdleRecheck)
	for {
		select {
		case <-ctx.Done():
			_ = idle.Close()
			return nil
		case <-newMail:
		case <-time.After(recheck):
		}
		if err := idle.Close(); err != nil {
			return fmt.Errorf("close idle: %w", err)
		}
		w.fetch(ctx, client)
		if idle, err = client.Idle(); err != nil {
			return w.poll(ctx, client)
		}
	}
}

func (w *watcher) poll(ctx context.Context, client *imapclient.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
		w.fetch(ctx, client)
	}
}

// fetch hands every message above the last seen UID to the handler. The \Seen
// flag is left untouched so other mail clients are unaffected.
func (w *watcher) fetch(ctx context.Context, client *imapclient.Client) {
	var uids imap.UIDSet
	uids.AddRange(w.lastUID+1, 0)
	cmd := client.Fetch(uids, &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	})
	defer cmd.Close()

	firstRun := !w.primed
	w.primed = true
	processed := 0
	for {
		data := cmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil || buf.Envelope == nil {
			continue
		}
		if buf.UID <= w.lastUID {
			continue
		}
		w.lastUID = buf.UID
		if firstRun {
			continue
		}
		var raw []byte
		if len(buf.BodySection) > 0 {
			raw = buf.BodySection[0].Bytes
		}
		msg, ok := toInboundMessage(buf.Envelope, raw)
		if !ok {
			continue
		}
		msg.ConfigID = w.channel.ID
		processed++
		if err := w.handler(ctx, w.channel, msg); err != nil {
			w.logger.Error("handle inbound failed", slog.Any("error", err))
		}
	}
	w.logger.Debug("imap fetch completed", slog.Int("processed", processed), slog.Uint64("last_uid", uint64(w.lastUID)))
}
