package challenges

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

// Notifier emails the course operators when a challenge is raised so a
// stuck job does not sit unnoticed until its timeout.
type Notifier struct {
	smtp      SmtpConfig
	operators []string
}

func NewNotifier(smtpConfig SmtpConfig, operators []string) *Notifier {
	return &Notifier{smtp: smtpConfig, operators: operators}
}

func (n *Notifier) ChallengeRaised(ctx context.Context, challenge Challenge) error {
	ctx, span := tracer.Start(ctx, "notifier:ChallengeRaised")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Kurs Takip <%s>", n.smtp.EmailAddress)
	mail.To = n.operators
	mail.Subject = fmt.Sprintf("Action required: %s login needs your help", challenge.AccountId)

	body := fmt.Sprintf(`The automated login for account %q is blocked and needs an operator.

Reason: %s
Challenge kind: %s

Please answer it in the dashboard before %s, after that the job fails and has to be resubmitted.`,
		challenge.AccountId,
		challenge.Prompt,
		challenge.Kind,
		challenge.ExpiresAt.Format("15:04:05 MST"),
	)
	mail.Text = []byte(body)

	err := mail.Send(
		fmt.Sprintf("%s:%d", n.smtp.Server, n.smtp.Port),
		smtp.PlainAuth("", n.smtp.EmailAddress, n.smtp.Password, n.smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(fmt.Sprintf("%s:%d", n.smtp.Server, n.smtp.Port), nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
