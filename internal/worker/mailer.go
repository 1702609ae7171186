package worker

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"

	"gopkg.in/gomail.v2"

	"forum-api/internal/config"
	"forum-api/internal/events"
)

const (
	verificationSubject  = "邮箱验证 - uniKorn 校园论坛"
	passwordResetSubject = "密码重置 - uniKorn 校园论坛"
)

type Mailer interface {
	SendVerification(ctx context.Context, event events.EmailVerificationEvent) error
	SendPasswordReset(ctx context.Context, event events.PasswordResetEvent) error
}

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPMailer struct {
	sender Sender
	from   string
	alias  string
}

// NewSMTPMailer dials with implicit TLS when the port is 465, which is what the
// DirectMail endpoint expects.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.Port == 465
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	return NewMailer(d, cfg.Username, cfg.FromAlias)
}

func NewMailer(sender Sender, from, alias string) *SMTPMailer {
	return &SMTPMailer{sender: sender, from: from, alias: alias}
}

func (m *SMTPMailer) SendVerification(ctx context.Context, event events.EmailVerificationEvent) error {
	text, html, err := renderVerification(event)
	if err != nil {
		return permanentError{err}
	}
	return m.send(ctx, event.Email, verificationSubject, text, html)
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, event events.PasswordResetEvent) error {
	text, html, err := renderPasswordReset(event)
	if err != nil {
		return permanentError{err}
	}
	return m.send(ctx, event.Email, passwordResetSubject, text, html)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, text, html string) error {
	msg := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	msg.SetAddressHeader("From", m.from, m.alias)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", text)
	msg.AddAlternative("text/html", html)

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	slog.InfoContext(ctx, "Email sent", "to", to, "subject", subject)
	return nil
}

type mailData struct {
	Greeting string
	Code     string
	ResetURL string
}

func greeting(username string) string {
	if username == "" {
		return "您好，"
	}
	return "尊敬的 " + username + "，"
}

var (
	verificationText = texttemplate.Must(texttemplate.New("verification.txt").Parse(`uniKorn 校园论坛 - 邮箱验证

{{.Greeting}}

感谢您注册 uniKorn 校园论坛！

您的验证码是：{{.Code}}

验证码有效期为 10 分钟，请及时使用。

如果您没有注册过我们的服务，请忽略此邮件。

---
此邮件由系统自动发送，请勿回复。
`))

	verificationHTML = htmltemplate.Must(htmltemplate.New("verification.html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>邮箱验证</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px;">
    <h2 style="color: #333; text-align: center;">uniKorn 校园论坛</h2>
    <p>{{.Greeting}}</p>
    <p>感谢您注册 uniKorn 校园论坛！请使用以下验证码完成邮箱验证：</p>
    <div style="background-color: #007bff; color: white; padding: 15px; text-align: center; border-radius: 5px;">
      <h2 style="margin: 0; font-size: 32px; letter-spacing: 5px;">{{.Code}}</h2>
    </div>
    <p>验证码有效期为 10 分钟，请及时使用。</p>
    <p style="color: #999; font-size: 12px; text-align: center;">此邮件由系统自动发送，请勿回复。</p>
  </div>
</body>
</html>
`))

	passwordResetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(`uniKorn 校园论坛 - 密码重置

{{.Greeting}}

我们收到了重置您账户密码的请求。请打开以下链接设置新密码：

{{.ResetURL}}

此链接 1 小时内有效。如果您没有请求重置密码，请忽略此邮件，您的密码不会改变。

---
此邮件由系统自动发送，请勿回复。
`))

	passwordResetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>密码重置</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px;">
    <h2 style="color: #333; text-align: center;">uniKorn 校园论坛</h2>
    <p>{{.Greeting}}</p>
    <p>我们收到了重置您账户密码的请求。请点击下面的按钮设置新密码：</p>
    <div style="text-align: center; margin: 30px 0;">
      <a href="{{.ResetURL}}" style="background-color: #dc3545; color: white; padding: 15px 30px; text-decoration: none; border-radius: 5px;">重置密码</a>
    </div>
    <p>此链接 1 小时内有效。如果您没有请求重置密码，请忽略此邮件。</p>
    <p style="color: #999; font-size: 12px; text-align: center;">此邮件由系统自动发送，请勿回复。</p>
  </div>
</body>
</html>
`))
)

func renderVerification(event events.EmailVerificationEvent) (text, html string, err error) {
	return renderWith(verificationText, verificationHTML, mailData{Greeting: greeting(event.Username), Code: event.Code})
}

func renderPasswordReset(event events.PasswordResetEvent) (text, html string, err error) {
	if event.ResetURL == "" {
		return "", "", fmt.Errorf("password reset event for %s has no reset url", event.Email)
	}
	return renderWith(passwordResetText, passwordResetHTML, mailData{Greeting: greeting(event.Username), ResetURL: event.ResetURL})
}

func renderWith(text *texttemplate.Template, html *htmltemplate.Template, data mailData) (string, string, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", text.Name(), err)
	}
	if err := html.Execute(&hb, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", html.Name(), err)
	}
	return tb.String(), hb.String(), nil
}
