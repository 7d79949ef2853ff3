// Package mail renders and sends the emails drained from the email and
// offer-email queues. Delivery goes through a Mailer; SMTP or vendor
// clients live outside this module.
package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/mail"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
)

// Job names.
const (
	MessageJob = "send-email"
	OfferJob   = "send-offer"
)

//go:embed templates/*.html
var templateFS embed.FS

// Envelope is a rendered email.
type Envelope struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// Mailer delivers envelopes. Implementations classify failures: a
// rejected address is taskcore.Fatal, a throttled or unreachable server
// is transient.
type Mailer interface {
	Send(ctx context.Context, e Envelope) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, e Envelope) error

// Send calls f.
func (f MailerFunc) Send(ctx context.Context, e Envelope) error { return f(ctx, e) }

// Message is the payload of a generic email job.
type Message struct {
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Name       string   `json:"name,omitempty"`
	Paragraphs []string `json:"paragraphs"`
}

// OfferPayload is the payload of an offer-email job.
type OfferPayload struct {
	CandidateID   id.ID     `json:"candidate_id"`
	CandidateName string    `json:"candidate_name"`
	To            string    `json:"to"`
	PositionTitle string    `json:"position_title"`
	Salary        string    `json:"salary,omitempty"`
	StartDate     time.Time `json:"start_date"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// Receipt is the stored result of a mail job.
type Receipt struct {
	To     []string  `json:"to"`
	SentAt time.Time `json:"sent_at"`
}

// Sender renders templates and hands envelopes to a Mailer.
type Sender struct {
	mailer    Mailer
	from      string
	templates *template.Template
	logger    *slog.Logger
}

// NewSender parses the embedded templates.
func NewSender(mailer Mailer, from string, logger *slog.Logger) (*Sender, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("mail: parse templates: %w", err)
	}
	return &Sender{mailer: mailer, from: from, templates: tmpl, logger: logger}, nil
}

// MessageHandler returns the email queue handler.
func (s *Sender) MessageHandler() job.HandlerFunc { return job.Handle(nil, s.SendMessage) }

// OfferHandler returns the offer-email queue handler.
func (s *Sender) OfferHandler() job.HandlerFunc { return job.Handle(nil, s.SendOffer) }

// SendMessage renders and sends a generic email.
func (s *Sender) SendMessage(ctx context.Context, m Message) (Receipt, error) {
	if m.Subject == "" {
		return Receipt{}, taskcore.Fatal(errors.New("mail: empty subject"))
	}
	return s.send(ctx, m.To, m.Subject, "generic.html", m)
}

// SendOffer renders and sends an offer letter.
func (s *Sender) SendOffer(ctx context.Context, p OfferPayload) (Receipt, error) {
	if p.PositionTitle == "" || p.StartDate.IsZero() {
		return Receipt{}, taskcore.Fatalf("mail: offer for %s lacks position or start date", p.CandidateID)
	}
	subject := "Your offer for " + p.PositionTitle
	return s.send(ctx, []string{p.To}, subject, "offer.html", p)
}

func (s *Sender) send(ctx context.Context, to []string, subject, tmpl string, data any) (Receipt, error) {
	if len(to) == 0 {
		return Receipt{}, taskcore.Fatal(errors.New("mail: no recipients"))
	}
	for _, addr := range to {
		if _, err := mail.ParseAddress(addr); err != nil {
			return Receipt{}, taskcore.Fatalf("mail: invalid recipient %q: %w", addr, err)
		}
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return Receipt{}, taskcore.Fatalf("mail: render %s: %w", tmpl, err)
	}
	env := Envelope{From: s.from, To: to, Subject: subject, HTML: body.String()}
	if err := s.mailer.Send(ctx, env); err != nil {
		return Receipt{}, err
	}

	s.logger.Info("email sent",
		slog.String("template", tmpl),
		slog.Int("recipients", len(to)),
	)
	return Receipt{To: to, SentAt: time.Now().UTC()}, nil
}

// LogMailer logs envelopes instead of delivering them.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer { return &LogMailer{logger: logger} }

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, e Envelope) error {
	m.logger.Info("email delivery skipped",
		slog.String("from", e.From),
		slog.Any("to", e.To),
		slog.String("subject", e.Subject),
		slog.Int("bytes", len(e.HTML)),
	)
	return nil
}
