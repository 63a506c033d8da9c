package email

import (
	"fmt"
	"net/smtp"

	"github.com/Yutman/Nexus-Trade/config"

	"github.com/rs/zerolog/log"
)

// Sender dispatches outbound mail. The reset flow treats delivery as
// fire-and-forget: a token already stored stays valid even if the email
// never arrives.
type Sender interface {
	Send(to string, subject string, body string) error
}

// EmailService sends mail over SMTP
type EmailService struct {
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	FromEmail     string
	FromName      string
	PublicBaseURL string
	Enabled       bool
}

// NewEmailService creates a new email service
func NewEmailService(cfg config.EmailConfig, publicBaseURL string) *EmailService {
	return &EmailService{
		SMTPHost:      cfg.SMTPHost,
		SMTPPort:      cfg.SMTPPort,
		SMTPUsername:  cfg.SMTPUsername,
		SMTPPassword:  cfg.SMTPPassword,
		FromEmail:     cfg.FromEmail,
		FromName:      cfg.FromName,
		PublicBaseURL: publicBaseURL,
		Enabled:       cfg.Enabled,
	}
}

// SendPasswordReset sends the reset link email. The raw token appears here
// and nowhere else.
func (es *EmailService) SendPasswordReset(toEmail, rawToken string) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s", es.PublicBaseURL, rawToken)

	subject := "Reset your NexusTrade password"
	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #0f172a; color: white; padding: 30px; text-align: center; border-radius: 10px 10px 0 0; }
        .content { background: #f9f9f9; padding: 30px; border-radius: 0 0 10px 10px; }
        .reset-button { background: #facc15; color: #0f172a; padding: 14px 30px; text-decoration: none; border-radius: 6px; display: inline-block; margin: 20px 0; font-weight: 600; }
        .warning { background: #fef3c7; border-left: 4px solid #f59e0b; padding: 12px; margin: 15px 0; }
        .footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
        code { background: #e5e7eb; padding: 2px 6px; border-radius: 3px; font-family: monospace; word-break: break-all; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Reset Your Password</h1>
        </div>
        <div class="content">
            <p>Hi there,</p>
            <p>We received a request to reset your NexusTrade password.</p>

            <p>Click the button below to reset your password:</p>

            <a href="%s" class="reset-button">Reset Password</a>

            <p style="color: #64748b; font-size: 14px;">
                Or copy this link:<br>
                <code>%s</code>
            </p>

            <div class="warning">
                <strong>Security Notice:</strong>
                <ul style="margin: 10px 0;">
                    <li>This link expires in 1 hour</li>
                    <li>Can only be used once</li>
                    <li>If you didn't request this, ignore this email</li>
                </ul>
            </div>
        </div>
        <div class="footer">
            <p>© 2025 NexusTrade. All rights reserved.</p>
            <p style="color: #94a3b8; font-size: 11px;">
                This is an automated email. Please do not reply.
            </p>
        </div>
    </div>
</body>
</html>
`, resetLink, resetLink)

	return es.Send(toEmail, subject, body)
}

// Send sends an email using SMTP
func (es *EmailService) Send(to, subject, body string) error {
	if !es.Enabled {
		log.Warn().Str("to", to).Str("subject", subject).Msg("Email service disabled - email not sent")
		return nil
	}

	from := fmt.Sprintf("%s <%s>", es.FromName, es.FromEmail)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		from, to, subject, body,
	))

	auth := smtp.PlainAuth("", es.SMTPUsername, es.SMTPPassword, es.SMTPHost)
	addr := fmt.Sprintf("%s:%s", es.SMTPHost, es.SMTPPort)

	err := smtp.SendMail(addr, auth, es.FromEmail, []string{to}, msg)
	if err != nil {
		log.Error().Err(err).Str("to", to).Msg("Failed to send email")
		return err
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("Email sent successfully")
	return nil
}
