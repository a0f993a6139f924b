package mailparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Reservation is one extracted candidate record, not yet persisted and so
// without a lifecycle status. The UID is assigned at fetch time and never
// changes afterwards.
type Reservation struct {
	UID             uint32    `json:"uid"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email"`
	ReservationDate string    `json:"reservation_date"` // YYYY-MM-DD
	ReservationTime string    `json:"reservation_time"` // HH:MM
	Guests          int       `json:"guests"`
	SpecialRequests string    `json:"special_requests"`
	ReceivedAt      time.Time `json:"received_at"`
}

// fieldPattern is one way a label may appear in the body. Variants are
// tried in order and the first non-empty capture wins, so new upstream
// formattings are added by appending to the list, not by new branches.
type fieldPattern struct {
	re *regexp.Regexp
}

func labelPatterns(label string) []fieldPattern {
	q := regexp.QuoteMeta(label)
	return []fieldPattern{
		{regexp.MustCompile(`(?i)` + q + `\*?:\s*([^\r\n]+)`)},      // Label: value
		{regexp.MustCompile(`(?i)` + q + `\*?\s*:\s*([^\r\n]+)`)},   // Label : value
		{regexp.MustCompile(`(?i)` + q + `\*?\s+([^\r\n]+)`)},       // Label value
	}
}

// extractField returns the first non-empty value any pattern variant of any
// given label captures. Multiple labels cover historically seen corruptions
// of the same field (the form relay has shipped double-encoded UTF-8 labels
// before).
func extractField(body string, labels ...string) string {
	for _, label := range labels {
		for _, p := range labelPatterns(label) {
			m := p.re.FindStringSubmatch(body)
			if m == nil {
				continue
			}
			if v := strings.TrimSpace(StripHTML(m[1])); v != "" {
				return v
			}
		}
	}
	return ""
}

var (
	dateRe   = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	timeRe   = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// Boilerplate the originating form injects into the remarks field. Matched
// verbatim, including the mis-transcoded variants, and removed; this is not
// a general normalization pass.
var remarksBoilerplate = []string{
	"Sie nutzen das Lust auf Dresden Reservierungssystem für Ihre Reservierungsanfrage. Lust auf Dresden ist der gröÃte Genuss-Guide für die Region. Hier k: Unchecked",
	"Sie nutzen das Lust auf Dresden Reservierungssystem für Ihre Reservierungsanfrage. Lust auf Dresden ist der gröÃte Genuss-Guide für die Region. Hier k: Checked",
	"Sie nutzen das Lust auf Dresden Reservierungssystem für Ihre Reservierungsanfrage. Lust auf Dresden ist der größte Genuss-Guide für die Region. Hier k: Checked",
	"Sie nutzen das Lust auf Dresden Reservierungssystem für Ihre Reservierungsanfrage. Lust auf Dresden ist der größte Genuss-Guide für die Region. Hier k: Unchecked",
}

// ParseReservation extracts the named form fields from a decoded body.
// Date and time are required: a reservation without them is unusable, so
// their absence fails the whole record instead of defaulting. Guest count
// deliberately keeps the opposite behavior and defaults to 1.
func ParseReservation(body string, receivedAt time.Time) (*Reservation, error) {
	r := &Reservation{
		FirstName:  formatName(extractField(body, "Vorname")),
		LastName:   formatName(extractField(body, "Nachname")),
		Phone:      formatPhone(extractField(body, "Telefon")),
		Email:      extractField(body, "E-Mail-Adresse"),
		ReceivedAt: receivedAt,
	}

	rawDate := extractField(body, "Datum wählen", "Datum wÃ¤hlen", "Datum", "Date")
	m := dateRe.FindStringSubmatch(rawDate)
	if m == nil {
		return nil, fmt.Errorf("invalid or missing reservation date: %q", rawDate)
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	r.ReservationDate = fmt.Sprintf("%s-%02d-%02d", m[3], month, day)

	rawTime := extractField(body, "Choose a time", "Uhrzeit")
	tm := timeRe.FindStringSubmatch(rawTime)
	if tm == nil {
		return nil, fmt.Errorf("invalid or missing reservation time: %q", rawTime)
	}
	hour, _ := strconv.Atoi(tm[1])
	r.ReservationTime = fmt.Sprintf("%02d:%s", hour, tm[2])

	r.Guests = parseGuests(extractField(body, "Anzahl Personen"))
	r.SpecialRequests = cleanRemarks(extractField(body, "Anmerkungen"))

	return r, nil
}

// formatName reduces a name to capitalized-first, lowercase-remainder form.
func formatName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	runes := []rune(strings.ToLower(name))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// formatPhone forces a number into German international form unless the
// caller already supplied one.
func formatPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+49" + strings.TrimPrefix(phone, "0")
}

func parseGuests(raw string) int {
	m := digitsRe.FindString(raw)
	if m == "" {
		return 1
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// cleanRemarks drops the form's injected boilerplate. An empty remarks
// field is stored as "-" so downstream display never deals with NULLs.
func cleanRemarks(raw string) string {
	cleaned := raw
	for _, b := range remarksBoilerplate {
		cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, b, ""))
	}
	if cleaned == "" {
		return "-"
	}
	return cleaned
}
