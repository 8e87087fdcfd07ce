package mail

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

// NewSendGridMailer builds a mailer using the given API key.
func NewSendGridMailer(key string, from mail.Address, appName string) *SendGridMailer {
	prefix := ""
	if appName != "" {
		prefix = "[" + appName + "] "
	}
	return &SendGridMailer{
		key:        key,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: prefix,
	}
}

// Send posts msg to SendGrid. A 4xx/5xx answer is returned as an error so the job queue can retry.
func (s *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid send: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (s *SendGridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return m
}
