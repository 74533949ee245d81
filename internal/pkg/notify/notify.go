package notify

// Mailer 定义外发邮件接口。
type Mailer interface {
	// SendOTP 发送注册验证码邮件。
	SendOTP(toEmail string, code string) error
	// SendPasswordReset 发送密码重置链接邮件。
	SendPasswordReset(toEmail string, resetURL string) error
}
