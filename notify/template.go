package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/aljonuschka/reservd/model"
)

// Kind selects which notification a guest receives.
type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindRejected  Kind = "rejected"
	KindUndo      Kind = "undo"
)

func (k Kind) Valid() bool {
	switch k {
	case KindConfirmed, KindRejected, KindUndo:
		return true
	}
	return false
}

type Rendered struct {
	Subject string
	Body    string
}

var templates = map[Kind]struct {
	subject string
	body    *template.Template
}{
	KindConfirmed: {
		subject: "Ihre Reservierung bei Aljonuschka ist bestätigt",
		body: template.Must(template.New("confirmed").Parse(`<p>Liebe/r {{.FirstName}} {{.LastName}},</p>
<p>Ihre Reservierung am {{.ReservationDate}} um {{.ReservationTime}} Uhr für {{.Guests}} Person(en) ist bestätigt.</p>
<p>Wir freuen uns auf Ihren Besuch!<br>Ihr Aljonuschka-Team</p>`)),
	},
	KindRejected: {
		subject: "Ihre Reservierungsanfrage bei Aljonuschka",
		body: template.Must(template.New("rejected").Parse(`<p>Liebe/r {{.FirstName}} {{.LastName}},</p>
<p>leider können wir Ihre Reservierungsanfrage am {{.ReservationDate}} um {{.ReservationTime}} Uhr nicht annehmen.</p>
<p>Bitte versuchen Sie einen anderen Termin.<br>Ihr Aljonuschka-Team</p>`)),
	},
	KindUndo: {
		subject: "Ihre Reservierung bei Aljonuschka ist doch möglich",
		body: template.Must(template.New("undo").Parse(`<p>Liebe/r {{.FirstName}} {{.LastName}},</p>
<p>gute Nachrichten: Ihre Reservierung am {{.ReservationDate}} um {{.ReservationTime}} Uhr für {{.Guests}} Person(en) ist nun doch bestätigt.</p>
<p>Wir freuen uns auf Ihren Besuch!<br>Ihr Aljonuschka-Team</p>`)),
	},
}

// Render produces the subject and HTML body for a notification about the
// given reservation.
func Render(kind Kind, r *model.ReservationEmail) (*Rendered, error) {
	tpl, ok := templates[kind]
	if !ok {
		return nil, fmt.Errorf("unknown notification type %q", kind)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("rendering %s notification: %w", kind, err)
	}
	return &Rendered{Subject: tpl.subject, Body: buf.String()}, nil
}
