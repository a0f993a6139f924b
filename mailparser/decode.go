package mailparser

import (
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// DecodeHeader decodes an RFC 2047 encoded header value. The mailbox this
// feed comes from only ever produces Latin-script charsets.
func DecodeHeader(header string) (string, error) {
	dec := new(mime.WordDecoder)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "iso-8859-1", "latin1":
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		case "iso-8859-15":
			return charmap.ISO8859_15.NewDecoder().Reader(input), nil
		case "windows-1252":
			return charmap.Windows1252.NewDecoder().Reader(input), nil
		default:
			return input, nil
		}
	}
	decoded, err := dec.DecodeHeader(header)
	if err != nil {
		return "", err
	}
	return decoded, nil
}
