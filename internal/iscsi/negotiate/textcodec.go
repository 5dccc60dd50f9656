package negotiate

import (
	"fmt"
	"strings"
)

// DecodeTextData splits a Login/Text PDU data segment into an ordered list
// of key=value pairs. Per RFC 3720 section 5, pairs are NUL-separated and
// the segment may end in one or more NULs (terminator and padding), which
// are all trimmed here rather than surfaced as empty pairs.
func DecodeTextData(data []byte) ([][2]string, error) {
	s := string(data)
	s = strings.TrimRight(s, "\x00")
	if s == "" {
		return nil, nil
	}

	fields := strings.Split(s, "\x00")
	pairs := make([][2]string, 0, len(fields))
	for _, f := range fields {
		eq := strings.IndexByte(f, '=')
		if eq < 0 {
			return nil, fmt.Errorf("negotiate: malformed text key-value pair %q", f)
		}
		pairs = append(pairs, [2]string{f[:eq], f[eq+1:]})
	}
	return pairs, nil
}

// EncodeTextData joins key=value pairs back into a NUL-separated data
// segment, in the order given.
func EncodeTextData(pairs [][2]string) []byte {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
		b.WriteByte(0)
	}
	return []byte(b.String())
}
