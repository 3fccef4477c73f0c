package terminal

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8Decoder turns raw terminal bytes into valid UTF-8 text. Invalid
// sequences become U+FFFD; a multi-byte character split across two reads is
// held back and completed by the next read instead of being replaced.
type utf8Decoder struct {
	t     transform.Transformer
	carry []byte
}

func newUTF8Decoder() *utf8Decoder {
	return &utf8Decoder{t: unicode.UTF8.NewDecoder()}
}

// decode converts p, prefixed by any bytes held back from the previous call.
// With final set nothing is held back.
func (d *utf8Decoder) decode(p []byte, final bool) string {
	src := p
	if len(d.carry) > 0 {
		src = append(d.carry, p...)
		d.carry = nil
	}
	if len(src) == 0 {
		return ""
	}

	// Each invalid byte may grow to a 3-byte replacement character.
	dst := make([]byte, len(src)*3+utf8.UTFMax)
	nDst, nSrc, err := d.t.Transform(dst, src, final)
	if errors.Is(err, transform.ErrShortSrc) {
		d.carry = append([]byte(nil), src[nSrc:]...)
	}
	return string(dst[:nDst])
}
