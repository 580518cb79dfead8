package mail

import (
	"crypto/tls"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/metrics"
)

// Message is a single addressed email with plain text and HTML renderings.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers one message. It returns nil only when the SMTP server
// accepted the message.
type Sender interface {
	Send(msg Message) error
	GetHost() string
	GetPort() int
}

var ErrNoRecipient = errors.New("message has no recipient")

type sender struct {
	dialer         *gomail.Dialer
	log            *zap.SugaredLogger
	retryCount     int
	retryBackoffMs int
}

// NewSender builds an SMTP sender from the SMTP configuration.
func NewSender(cfg config.SMTP, log *zap.SugaredLogger) Sender {
	log = log.Named("mail")
	log.Infow("Initializing mail sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.User, "ssl", cfg.Secure)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.SSL = cfg.Secure
	if cfg.InsecureSkipVerify {
		log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host} // #nosec G402 -- explicit opt-in
	}

	retryCount := cfg.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	retryBackoffMs := cfg.RetryBackoffMs
	if retryBackoffMs <= 0 {
		retryBackoffMs = 100
	}

	return &sender{
		dialer:         d,
		log:            log,
		retryCount:     retryCount,
		retryBackoffMs: retryBackoffMs,
	}
}

// FormatAddress renders a display name and address as a From header value,
// e.g. "Your App Name" <noreply@example.com>.
func FormatAddress(address, name string) string {
	if name == "" {
		return address
	}
	return gomail.NewMessage().FormatAddress(address, name)
}

func (s *sender) Send(msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	var lastErr error
	backoffMs := s.retryBackoffMs

	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(m)
		if err == nil {
			s.log.Debugw("Mail sent", "to", msg.To, "attempt", attempt+1)
			metrics.MailSendSuccess.WithLabelValues(s.GetHost()).Inc()
			return nil
		}

		lastErr = err
		if attempt < s.retryCount {
			s.log.Warnw("Send attempt failed, retrying", "to", msg.To, "attempt", attempt+1, "error", err, "retryInMs", backoffMs)
			time.Sleep(time.Duration(backoffMs) * time.Millisecond)
			backoffMs = int(math.Min(float64(backoffMs)*2, 32000))
		}
	}

	metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
	return lastErr
}

func (s *sender) GetHost() string {
	return s.dialer.Host
}

func (s *sender) GetPort() int {
	return s.dialer.Port
}
