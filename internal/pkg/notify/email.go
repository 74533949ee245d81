package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"buildr/internal/config"
	"buildr/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// EmailMailer 通过 SMTP 发送事务邮件。
type EmailMailer struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailMailer 创建 SMTP Mailer。
func NewEmailMailer(cfg *config.EmailConfig, logger *slog.Logger) *EmailMailer {
	return &EmailMailer{
		cfg:    cfg,
		logger: logger,
	}
}

// SendOTP 发送邮箱验证码。
func (n *EmailMailer) SendOTP(toEmail string, code string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Verify your email</h2>
    <p>Your verification OTP for registration is:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>The code expires in 10 minutes.</p>
  </div>
</body>
</html>`, code)

	return n.send(toEmail, "[Buildr] Verification", body)
}

// SendPasswordReset 发送密码重置链接。
func (n *EmailMailer) SendPasswordReset(toEmail string, resetURL string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Password reset</h2>
    <p>Your reset password link is here:</p>
    <p><a href="%s">%s</a></p>
    <p>The link expires in 15 minutes. If you did not request this, ignore this mail.</p>
  </div>
</body>
</html>`, resetURL, resetURL)

	return n.send(toEmail, "[Buildr] Password Reset", body)
}

func (n *EmailMailer) send(toEmail, subject, htmlBody string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		metrics.MailFailedTotal.Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.MailSentTotal.Inc()
	if n.logger != nil {
		n.logger.Info("mail sent", slog.String("to", toEmail), slog.String("subject", subject))
	}
	return nil
}
