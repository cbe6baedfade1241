// Package notify sends plain-text admin emails through Mailgun.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

const (
	SubjectCronFailed    = "Best Ideas Cron Failed"
	SubjectCronCompleted = "Best Ideas Cron Completed"
)

// Config configures the Mailgun sender. With Domain or APIKey empty,
// messages are only logged.
type Config struct {
	Domain  string        `yaml:"domain"`
	APIKey  string        `yaml:"api_key"`
	APIBase string        `yaml:"api_base"` // optional, e.g. the EU endpoint
	From    string        `yaml:"from"`     // default "Best Ideas Admin <admin@DOMAIN>"
	To      string        `yaml:"to"`       // default "admin@DOMAIN"
	Timeout time.Duration `yaml:"timeout"`  // default 20s
}

func (c *Config) defaults() {
	if c.From == "" && c.Domain != "" {
		c.From = "Best Ideas Admin <admin@" + c.Domain + ">"
	}
	if c.To == "" && c.Domain != "" {
		c.To = "admin@" + c.Domain
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, subject, text string) error
}

// Mailgun is a Sender backed by the Mailgun API.
type Mailgun struct {
	mg       mailgun.Mailgun
	from, to string
}

// NewMailgun creates a Mailgun sender.
func NewMailgun(cfg Config) *Mailgun {
	cfg.defaults()
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		mg.SetAPIBase(cfg.APIBase)
	}
	return &Mailgun{mg: mg, from: cfg.From, to: cfg.To}
}

func (m *Mailgun) Send(ctx context.Context, subject, text string) error {
	msg := m.mg.NewMessage(m.from, subject, text, m.to)
	resp, id, err := m.mg.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("notify: mailgun send: %w (response %q)", err, resp)
	}
	slog.Default().DebugContext(ctx, "notify: mailgun queued", "id", id)
	return nil
}

// logSender only logs. It stands in when Mailgun is not configured.
type logSender struct{ logger *slog.Logger }

func (l logSender) Send(ctx context.Context, subject, text string) error {
	l.logger.InfoContext(ctx, "notify: message (mail not configured)", "subject", subject, "text", text)
	return nil
}

// Notifier sends admin messages. Delivery failures are logged, never
// returned: a broken mail setup must not fail a batch.
type Notifier struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Notifier for cfg.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	var s Sender = logSender{logger: logger}
	if cfg.Domain != "" && cfg.APIKey != "" {
		s = NewMailgun(cfg)
		logger.Info("notify: mailgun configured", "domain", cfg.Domain)
	}
	return &Notifier{sender: s, timeout: cfg.Timeout, logger: logger}
}

// NewWithSender creates a Notifier around s.
func NewWithSender(s Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: s, timeout: 20 * time.Second, logger: logger}
}

// Admin sends a message to the administrator.
func (n *Notifier) Admin(ctx context.Context, subject, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.sender.Send(ctx, subject, text); err != nil {
		n.logger.ErrorContext(ctx, "notify: admin message not sent", "subject", subject, "error", err)
	}
}

// CronFailed reports a cron stage that stopped the run.
func (n *Notifier) CronFailed(ctx context.Context, stage string, err error) {
	n.Admin(ctx, SubjectCronFailed, fmt.Sprintf("Failed on %s with error:\n%v\n", stage, err))
}

// CronCompleted reports a finished cron run; actions is the body built by
// the stages that ran.
func (n *Notifier) CronCompleted(ctx context.Context, activated, completed time.Time, actions string) {
	n.Admin(ctx, SubjectCronCompleted, CompletedText(activated, completed, actions))
}

// CompletedText is the body of the completion message.
func CompletedText(activated, completed time.Time, actions string) string {
	return fmt.Sprintf("Activated at %s\nCompleted at %s.\n\n%s",
		activated.Format(time.TimeOnly), completed.Format(time.TimeOnly), actions)
}
