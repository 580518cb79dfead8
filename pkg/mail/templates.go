package mail

import (
	"bytes"
	_ "embed"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"
)

const (
	SubjectVerification  = "Email Verification"
	SubjectWelcome       = "Welcome to our platform"
	SubjectPasswordReset = "Password Reset"
)

// Content is a rendered mail ready to be stored as a mail record.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

type VerificationMailParams struct {
	Name         string
	Email        string
	Link         string
	ExpiresIn    string
	BrandingName string
}

type WelcomeMailParams struct {
	Name         string
	Email        string
	ProviderName string
	BrandingName string
}

type PasswordResetMailParams struct {
	Name         string
	Email        string
	Link         string
	ExpiresIn    string
	BrandingName string
}

// pair holds the text and html variants of one template.
type pair struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

var (
	verificationTemplate  pair
	welcomeTemplate       pair
	passwordResetTemplate pair

	//go:embed templates/verification.txt
	verificationTextRaw string
	//go:embed templates/verification.html
	verificationHTMLRaw string
	//go:embed templates/welcome.txt
	welcomeTextRaw string
	//go:embed templates/welcome.html
	welcomeHTMLRaw string
	//go:embed templates/password_reset.txt
	passwordResetTextRaw string
	//go:embed templates/password_reset.html
	passwordResetHTMLRaw string
)

func init() {
	verificationTemplate = mustParse("verification", verificationTextRaw, verificationHTMLRaw)
	welcomeTemplate = mustParse("welcome", welcomeTextRaw, welcomeHTMLRaw)
	passwordResetTemplate = mustParse("passwordReset", passwordResetTextRaw, passwordResetHTMLRaw)
}

func mustParse(name, textRaw, htmlRaw string) pair {
	return pair{
		text: texttemplate.Must(texttemplate.New(name).Funcs(sprig.TxtFuncMap()).Parse(textRaw)),
		html: htmltemplate.Must(htmltemplate.New(name).Funcs(sprig.FuncMap()).Parse(htmlRaw)),
	}
}

func render(subject string, t pair, p any) (Content, error) {
	var text, html bytes.Buffer
	if err := t.text.Execute(&text, p); err != nil {
		return Content{}, err
	}
	if err := t.html.Execute(&html, p); err != nil {
		return Content{}, err
	}
	return Content{Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

func RenderVerification(p VerificationMailParams) (Content, error) {
	return render(SubjectVerification, verificationTemplate, p)
}

func RenderWelcome(p WelcomeMailParams) (Content, error) {
	if p.ProviderName == "" {
		p.ProviderName = "Google"
	}
	return render(SubjectWelcome, welcomeTemplate, p)
}

func RenderPasswordReset(p PasswordResetMailParams) (Content, error) {
	return render(SubjectPasswordReset, passwordResetTemplate, p)
}
