package lpc

import (
	"fmt"
	"strconv"
	"strings"
)

// Encode renders an LPC value tree in the textual MudMode form. A nil Value
// encodes as 0 per the LPC null convention.
func Encode(v Value) ([]byte, error) {
	var sb strings.Builder
	if err := encode(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encode(sb *strings.Builder, v Value) error {
	switch t := v.(type) {
	case nil:
		sb.WriteByte('0')
	case Int:
		sb.WriteString(strconv.FormatInt(int64(t), 10))
	case Float:
		s := strconv.FormatFloat(float64(t), 'f', -1, 64)
		if !strings.ContainsAny(s, ".") {
			s += ".0"
		}
		sb.WriteString(s)
	case Str:
		encodeString(sb, string(t))
	case Buffer:
		// Buffers have no distinct wire form; they travel as strings after
		// lossy UTF-8 replacement.
		encodeString(sb, strings.ToValidUTF8(string(t), "�"))
	case Array:
		sb.WriteString("({")
		for _, elem := range t {
			if err := encode(sb, elem); err != nil {
				return err
			}
			sb.WriteByte(',')
		}
		sb.WriteString("})")
	case Mapping:
		sb.WriteString("([")
		for _, pair := range t {
			if err := encode(sb, pair.Key); err != nil {
				return err
			}
			sb.WriteByte(':')
			if err := encode(sb, pair.Val); err != nil {
				return err
			}
			sb.WriteByte(',')
		}
		sb.WriteString("])")
	default:
		return fmt.Errorf("lpc: unsupported type %T", v)
	}
	return nil
}

func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}
