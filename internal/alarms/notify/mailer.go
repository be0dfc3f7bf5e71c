package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TemperatureAlert is one recipient's notification for one breach.
type TemperatureAlert struct {
	Email      string
	DeviceID   string
	DeviceName string
	Key        string
	Measured   float64
	Threshold  float64
	When       time.Time
}

// MailerConfig holds SMTP delivery settings.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// ErrMailerDisabled is returned when no SMTP host is configured.
var ErrMailerDisabled = errors.New("mailer: smtp not configured")

// Mailer delivers alert mail over SMTP.
type Mailer struct {
	addr     string
	from     string
	auth     smtp.Auth
	template *Template
	send     SendFunc
	logger   *zap.Logger
}

// MailerOption configures the mailer.
type MailerOption func(*Mailer)

// WithSendFunc replaces the SMTP transport.
func WithSendFunc(send SendFunc) MailerOption {
	return func(m *Mailer) {
		if send != nil {
			m.send = send
		}
	}
}

// WithTemplate overrides the mail body template.
func WithTemplate(tpl *Template) MailerOption {
	return func(m *Mailer) {
		if tpl != nil {
			m.template = tpl
		}
	}
}

// WithMailerLogger sets the logger.
func WithMailerLogger(logger *zap.Logger) MailerOption {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMailer constructs an SMTP mailer.
func NewMailer(cfg MailerConfig, opts ...MailerOption) (*Mailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, ErrMailerDisabled
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mailer: empty from address")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	m := &Mailer{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		from:     cfg.From,
		template: tpl,
		send:     smtp.SendMail,
		logger:   zap.NewNop(),
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NotifyTemperatureAlert renders and sends one alert mail.
func (m *Mailer) NotifyTemperatureAlert(ctx context.Context, alert TemperatureAlert) error {
	if m == nil {
		return ErrMailerDisabled
	}
	if strings.TrimSpace(alert.Email) == "" {
		return errors.New("mailer: empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := m.template.Render(templateData(alert))
	if err != nil {
		return err
	}
	msg := buildMessage(m.from, alert.Email, subject(alert), body, alert.When)
	if err := m.send(m.addr, m.auth, m.from, []string{alert.Email}, msg); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", alert.Email, err)
	}
	m.logger.Info("alert mail sent",
		zap.String("device_id", alert.DeviceID),
		zap.String("email", alert.Email),
		zap.Float64("measured", alert.Measured),
	)
	return nil
}

func subject(alert TemperatureAlert) string {
	name := alert.DeviceName
	if name == "" {
		name = alert.DeviceID
	}
	return fmt.Sprintf("Temperature alert: %s at %s", name, formatFloat(alert.Measured))
}

func buildMessage(from, to, subject, body string, at time.Time) []byte {
	if at.IsZero() {
		at = time.Now()
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", at.UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}

// LogMailer writes alerts to the log instead of sending mail. It is used when
// no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// NotifyTemperatureAlert implements Sender.
func (l *LogMailer) NotifyTemperatureAlert(_ context.Context, alert TemperatureAlert) error {
	l.logger.Warn("alert mail not sent, smtp disabled",
		zap.String("email", alert.Email),
		zap.String("device_id", alert.DeviceID),
		zap.String("device_name", alert.DeviceName),
		zap.Float64("measured", alert.Measured),
		zap.Float64("threshold", alert.Threshold),
		zap.Time("when", alert.When),
	)
	return nil
}
