package mail

import (
	"bytes"
	"html/template"
	"net/mail"
	"strings"
	texttemplate "text/template"
)

// AccessEmailData feeds the temporary access email.
type AccessEmailData struct {
	FirstName    string
	LastName     string
	Email        string
	TempPassword string
	LoginURL     string
}

const accessText = `Bonjour {{.FirstName}},

Votre compte a été créé ou réinitialisé.
Identifiant : {{.Email}}
Mot de passe temporaire : {{.TempPassword}}

Connectez-vous sur {{.LoginURL}} ; le changement de mot de passe vous sera demandé à la première connexion.
`

const accessHTML = `<p>Bonjour {{.FirstName}},</p>
<p>Votre compte a été créé ou réinitialisé.</p>
<ul>
<li>Identifiant : <strong>{{.Email}}</strong></li>
<li>Mot de passe temporaire : <code>{{.TempPassword}}</code></li>
</ul>
<p><a href="{{.LoginURL}}">Se connecter</a> ; le changement de mot de passe vous sera demandé à la première connexion.</p>
`

var (
	accessTextTmpl = texttemplate.Must(texttemplate.New("access_text").Parse(accessText))
	accessHTMLTmpl = template.Must(template.New("access_html").Parse(accessHTML))
)

// AccessEmail renders the temporary credentials message.
func AccessEmail(data AccessEmailData) (Message, error) {
	var text, html bytes.Buffer
	if err := accessTextTmpl.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := accessHTMLTmpl.Execute(&html, data); err != nil {
		return Message{}, err
	}
	name := strings.TrimSpace(data.FirstName + " " + data.LastName)
	return Message{
		To:      mail.Address{Name: name, Address: data.Email},
		Subject: "Vos accès temporaires",
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
