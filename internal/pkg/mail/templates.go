package mail

import (
	"bytes"
	"fmt"
	"html"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Template names.
const (
	TemplateVerification          = "verification"
	TemplatePasswordReset         = "password_reset"
	TemplateAdminPaymentSubmitted = "admin_payment_submitted"
	TemplatePaymentSuccess        = "payment_success"
	TemplatePaymentFailed         = "payment_failed"
	TemplateClassReminder         = "class_reminder"
)

type mailTemplate struct {
	subject string
	body    *template.Template
}

// Templates are written in Markdown. Placeholders are filled first, then the
// result is converted to HTML; raw HTML in data is not rendered.
var templateSources = map[string][2]string{
	TemplateVerification: {"Verify your email", `# Verify Your Email

Hello **{{.name}}**,

Thank you for registering! Please use the verification code below to complete your registration:

## {{.verificationCode}}

This code will expire in 10 minutes.

If you didn't create an account, you can safely ignore this email.
`},
	TemplatePasswordReset: {"Reset Your Password", `# Reset Your Password

Hello **{{.name}}**,

We received a request to reset your password. Use the link below to set a new password:

[Reset Password]({{.resetLink}})

This link will expire in 10 minutes.

If you didn't request a password reset, please ignore this email.
`},
	TemplateAdminPaymentSubmitted: {"New Payment Submitted", `# New Payment Submitted

| | |
|---|---|
| User | {{.userName}} |
| Email | {{.userEmail}} |
| Course | {{.courseName}} |
| Amount | ৳{{.amount}} |
| Payment ID | {{.paymentId}} |

Please review and verify.
`},
	TemplatePaymentSuccess: {"Payment Successful", `# Payment Successful

Hello **{{.name}}**,

Your payment has been successfully processed.

- **Course:** {{.courseName}}
- **Amount:** ৳{{.amount}}
- **Transaction ID:** {{.transactionId}}

You now have full access. Thank you for learning with us.
`},
	TemplatePaymentFailed: {"Payment Failed", `# Payment Failed

Hello **{{.name}}**,

Unfortunately, your payment could not be completed.

- **Course:** {{.courseName}}
- **Amount:** ৳{{.amount}}
- **Reason:** {{.reason}}

Please try again or contact support.
`},
	TemplateClassReminder: {"Upcoming Class Reminder", `# Upcoming Class

Hello **{{.name}}**,

Your class **{{.classTitle}}** in batch "{{.batchName}}" for course "{{.courseName}}" starts at {{.startsAt}}.
{{if .meetingLink}}
[Join the class]({{.meetingLink}})
{{end}}
See you there.
`},
}

const layout = `<!DOCTYPE html>
<html>
<head><meta http-equiv="Content-Type" content="text/html; charset=UTF-8" /></head>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;background:#f5f5f5;padding:20px">
<div style="max-width:600px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
%s
<hr style="border:none;border-top:1px solid #eaeaea;margin:26px 0" />
<p style="color:#999;font-size:12px">This email was sent automatically, please do not reply.<br />&copy;%d %s</p>
</div>
</body>
</html>`

// Renderer turns template data into a Message.
type Renderer struct {
	md        goldmark.Markdown
	templates map[string]mailTemplate
	brand     string
}

// NewRenderer parses the built-in templates.
func NewRenderer(brand string) (*Renderer, error) {
	r := &Renderer{
		md:        goldmark.New(goldmark.WithExtensions(extension.Table)),
		templates: make(map[string]mailTemplate, len(templateSources)),
		brand:     brand,
	}
	for name, src := range templateSources {
		t, err := template.New(name).Option("missingkey=zero").Parse(src[1])
		if err != nil {
			return nil, fmt.Errorf("parse mail template %s: %w", name, err)
		}
		r.templates[name] = mailTemplate{subject: src[0], body: t}
	}
	return r, nil
}

// Render fills the named template and returns a message addressed to to.
func (r *Renderer) Render(name, to string, data map[string]interface{}) (Message, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown mail template %q", name)
	}
	var md bytes.Buffer
	if err := tpl.body.Execute(&md, data); err != nil {
		return Message{}, fmt.Errorf("execute mail template %s: %w", name, err)
	}
	var body bytes.Buffer
	if err := r.md.Convert(md.Bytes(), &body); err != nil {
		return Message{}, fmt.Errorf("render mail template %s: %w", name, err)
	}
	return Message{
		To:      []string{to},
		Subject: tpl.subject,
		HTML:    fmt.Sprintf(layout, body.String(), time.Now().Year(), html.EscapeString(r.brand)),
	}, nil
}
