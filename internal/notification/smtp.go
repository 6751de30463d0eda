package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender renders the embedded HTML templates and hands the message to
// an SMTP relay.
type SMTPSender struct {
	cfg       SMTPConfig
	templates map[string]*template.Template
	sendMail  sendMailFunc
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	templates := make(map[string]*template.Template)
	for _, name := range []string{TemplatePaymentFailed, TemplatePaymentRetriesExhausted} {
		// One set per file; every file defines its own "subject".
		tmpl, err := template.New(name).Option("missingkey=zero").ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		templates[name] = tmpl
	}
	return &SMTPSender{cfg: cfg, templates: templates, sendMail: smtp.SendMail}, nil
}

func (s *SMTPSender) Send(ctx context.Context, recipient string, name string, data map[string]any) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" || strings.ContainsAny(recipient, "\r\n") {
		return ErrInvalidRecipient
	}
	subject, body, err := s.render(name, data)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	return s.sendMail(addr, auth, s.cfg.From, []string{recipient}, buildMessage(s.cfg.From, recipient, subject, body))
}

func (s *SMTPSender) render(name string, data map[string]any) (string, string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var subject bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}

	var body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&body, name+".html", data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(subject.String()), strings.TrimSpace(body.String()), nil
}

func buildMessage(from, to, subject, body string) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}
