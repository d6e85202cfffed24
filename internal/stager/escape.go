package stager

import (
	"fmt"
	"strings"
)

// Inline payloads travel through a shell-interpreted provider field where
// newlines delimit command lines and percent signs are format directives.
// Both are escaped losslessly so the payload survives the transport intact.

// EncodeInline escapes a payload for the inline command field.
func EncodeInline(payload []byte) string {
	var b strings.Builder
	b.Grow(len(payload))
	for _, c := range payload {
		switch c {
		case '%':
			b.WriteString("%25")
		case '\n':
			b.WriteString("%0A")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DecodeInline reverses EncodeInline, restoring the exact original bytes.
func DecodeInline(encoded string) ([]byte, error) {
	out := make([]byte, 0, len(encoded))
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		if i+2 >= len(encoded) {
			return nil, fmt.Errorf("truncated escape at offset %d", i)
		}
		switch encoded[i+1 : i+3] {
		case "25":
			out = append(out, '%')
		case "0A":
			out = append(out, '\n')
		default:
			return nil, fmt.Errorf("invalid escape %q at offset %d", encoded[i:i+3], i)
		}
		i += 2
	}
	return out, nil
}
