package mailparser

import (
	"encoding/base64"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// The form relay produces messages whose MIME framing is not always valid
// (bare LF part separators, charset parameters on the wrong header line,
// boundary parameters with and without quotes). mime/multipart rejects a
// good share of them, so the splitting here is done by hand on the raw
// bytes and only the charset conversion is delegated to x/text.

var (
	boundaryQuotedRe   = regexp.MustCompile(`(?i)boundary="([^"]+)"`)
	boundaryUnquotedRe = regexp.MustCompile(`(?i)boundary=([^\s;]+)`)
	headerBodySplitRe  = regexp.MustCompile(`\r?\n\r?\n`)
	charsetRe          = regexp.MustCompile(`(?i)charset\s*=\s*"?([a-zA-Z0-9._-]+)"?`)
	cteRe              = regexp.MustCompile(`(?i)content-transfer-encoding:\s*([a-zA-Z0-9-]+)`)
	textPlainRe        = regexp.MustCompile(`(?i)content-type:\s*text/plain`)
	textHTMLRe         = regexp.MustCompile(`(?i)content-type:\s*text/html`)
	qpSoftBreakRe      = regexp.MustCompile(`=\r?\n`)
	qpHexRe            = regexp.MustCompile(`=([0-9A-Fa-f]{2})`)
	whitespaceRe       = regexp.MustCompile(`\s+`)
)

// ExtractBody locates and decodes the human-readable part of a raw message.
// Multipart messages are split on the declared boundary and scanned for a
// text/plain part first, then text/html with tags stripped. Messages without
// a boundary are treated as single-part. Returns "" when no body is found;
// the caller decides whether that is an error.
func ExtractBody(raw []byte) string {
	boundary := findBoundary(raw)
	if boundary == "" {
		return extractSinglePart(raw)
	}

	parts := strings.Split(string(raw), "--"+boundary)

	for _, part := range parts {
		if !textPlainRe.MatchString(part) {
			continue
		}
		if body := decodePart(part, false); body != "" {
			return body
		}
	}

	for _, part := range parts {
		if !textHTMLRe.MatchString(part) {
			continue
		}
		if body := decodePart(part, true); body != "" {
			return body
		}
	}

	return ""
}

func findBoundary(raw []byte) string {
	if m := boundaryQuotedRe.FindSubmatch(raw); m != nil {
		return string(m[1])
	}
	if m := boundaryUnquotedRe.FindSubmatch(raw); m != nil {
		return string(m[1])
	}
	return ""
}

// decodePart splits a MIME part into headers and body on the first blank
// line, then decodes the body according to the part's declared
// content-transfer-encoding and charset.
func decodePart(part string, stripTags bool) string {
	loc := headerBodySplitRe.FindStringIndex(part)
	if loc == nil {
		return ""
	}
	headers := part[:loc[0]]
	body := strings.TrimSpace(part[loc[1]:])
	if body == "" {
		return ""
	}

	decoded := decodeBody(body, transferEncoding(headers), charsetOf(headers))
	if stripTags {
		decoded = StripHTML(decoded)
	}
	return strings.TrimSpace(decoded)
}

func extractSinglePart(raw []byte) string {
	return decodePart(string(raw), false)
}

func charsetOf(headers string) string {
	if m := charsetRe.FindStringSubmatch(headers); m != nil {
		return strings.ToLower(m[1])
	}
	return "utf-8"
}

func transferEncoding(headers string) string {
	if m := cteRe.FindStringSubmatch(headers); m != nil {
		return strings.ToLower(m[1])
	}
	return "7bit"
}

func decodeBody(body, cte, charset string) string {
	var raw []byte
	switch cte {
	case "base64":
		b, err := base64.StdEncoding.DecodeString(whitespaceRe.ReplaceAllString(body, ""))
		if err != nil {
			return ""
		}
		raw = b
	case "quoted-printable":
		raw = decodeQuotedPrintable(body)
	default:
		raw = []byte(body)
	}
	return decodeCharset(raw, charset)
}

// decodeQuotedPrintable removes soft line breaks before resolving =XX
// escapes, so multibyte sequences wrapped across lines survive. Invalid
// escapes pass through verbatim, matching what the upstream form relay
// itself emits for stray equals signs.
func decodeQuotedPrintable(s string) []byte {
	s = qpSoftBreakRe.ReplaceAllString(s, "")
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '=' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			out = append(out, hexByte(s[i+1])<<4|hexByte(s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return out
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

// decodeCharset converts raw body bytes into text using the declared
// charset. Unknown charsets fall back to interpreting the bytes as-is
// rather than dropping the message.
func decodeCharset(raw []byte, charset string) string {
	switch charset {
	case "utf-8", "us-ascii", "ascii", "":
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

var (
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	htmlEntityRe  = regexp.MustCompile(`&[a-zA-Z0-9#]+;`)
	htmlUnescaper = map[string]string{
		"&amp;":  "&",
		"&lt;":   "<",
		"&gt;":   ">",
		"&quot;": `"`,
		"&#39;":  "'",
		"&nbsp;": " ",
	}
)

// StripHTML removes tags and resolves the handful of entities the form's
// HTML alternative actually contains.
func StripHTML(s string) string {
	clean := htmlTagRe.ReplaceAllString(s, "")
	clean = htmlEntityRe.ReplaceAllStringFunc(clean, func(entity string) string {
		if r, ok := htmlUnescaper[entity]; ok {
			return r
		}
		return entity
	})
	return strings.TrimSpace(clean)
}
