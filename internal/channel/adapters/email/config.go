package email

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/statebot/internal/channel"
)

// Type is the channel type of the email adapter.
const Type channel.ChannelType = "email"

const (
	transportSMTP    = "smtp"
	transportMailgun = "mailgun"

	securityTLS      = "tls"
	securityStartTLS = "starttls"
	securityNone     = "none"
)

// Config is the decoded credential block of an email channel.
type Config struct {
	Username     string
	Password     string
	From         string
	Subject      string
	Transport    string
	SMTPHost     string
	SMTPPort     int
	SMTPSecurity string
	IMAPHost     string
	IMAPPort     int
	IMAPSecurity string
	PollInterval time.Duration

	MailgunDomain string
	MailgunAPIKey string
	MailgunRegion string
}

func parseConfig(raw map[string]any) (Config, error) {
	cfg := Config{
		Username:     channel.ReadString(raw, "username"),
		Password:     channel.ReadString(raw, "password"),
		From:         channel.ReadString(raw, "from"),
		Subject:      channel.ReadString(raw, "subject"),
		Transport:    strings.ToLower(channel.ReadString(raw, "transport")),
		SMTPHost:     channel.ReadString(raw, "smtp_host"),
		SMTPSecurity: channel.ReadString(raw, "smtp_security"),
		IMAPHost:     channel.ReadString(raw, "imap_host"),
		IMAPSecurity: channel.ReadString(raw, "imap_security"),

		MailgunDomain: channel.ReadString(raw, "mailgun_domain"),
		MailgunAPIKey: channel.ReadString(raw, "mailgun_api_key"),
		MailgunRegion: strings.ToLower(channel.ReadString(raw, "mailgun_region")),
	}
	if cfg.Transport == "" {
		cfg.Transport = transportSMTP
	}
	required := map[string]string{
		"username":  cfg.Username,
		"password":  cfg.Password,
		"imap_host": cfg.IMAPHost,
	}
	switch cfg.Transport {
	case transportSMTP:
		required["smtp_host"] = cfg.SMTPHost
	case transportMailgun:
		required["mailgun_domain"] = cfg.MailgunDomain
		required["mailgun_api_key"] = cfg.MailgunAPIKey
	default:
		return Config{}, fmt.Errorf("email transport must be smtp or mailgun: %q", cfg.Transport)
	}
	for _, key := range []string{"username", "password", "imap_host", "smtp_host", "mailgun_domain", "mailgun_api_key"} {
		if v, ok := required[key]; ok && v == "" {
			return Config{}, fmt.Errorf("email %s is required", key)
		}
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Subject == "" {
		cfg.Subject = "statebot"
	}
	if cfg.SMTPSecurity == "" {
		cfg.SMTPSecurity = securityStartTLS
	}
	if cfg.IMAPSecurity == "" {
		cfg.IMAPSecurity = securityTLS
	}
	for _, sec := range []string{cfg.SMTPSecurity, cfg.IMAPSecurity} {
		switch sec {
		case securityTLS, securityStartTLS, securityNone:
		default:
			return Config{}, fmt.Errorf("email security must be one of tls, starttls, none: %q", sec)
		}
	}
	var err error
	if cfg.SMTPPort, err = readInt(raw, "smtp_port", 587); err != nil {
		return Config{}, err
	}
	if cfg.IMAPPort, err = readInt(raw, "imap_port", 993); err != nil {
		return Config{}, err
	}
	seconds, err := readInt(raw, "poll_interval_seconds", 300)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval = time.Duration(seconds) * time.Second
	return cfg, nil
}

func readInt(raw map[string]any, key string, fallback int) (int, error) {
	s := channel.ReadString(raw, key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("email %s must be a positive integer: %q", key, s)
	}
	return n, nil
}
