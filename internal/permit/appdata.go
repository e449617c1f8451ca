package permit

import (
	"fmt"
	"sort"
	"strings"
)

// canonicalJSON renders v as JSON with recursively sorted object keys and no
// inserted whitespace. It exists because this system's app-data hash commits
// to one specific byte sequence for a given logical document, and Go's
// encoding/json neither sorts nested map keys in a caller-controlled way nor
// guarantees field order for structs built up as map[string]interface{} —
// no example or ecosystem package in this codebase's dependency tree offers
// a canonical/deterministic JSON encoder, so this is hand-rolled.
//
// Supported value types: map[string]interface{}, []interface{}, string,
// bool, nil, and int/int64 (encoded as bare decimal integers, never floats).
func canonicalJSON(v interface{}) (string, error) {
	var b strings.Builder
	if err := encodeValue(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encodeValue(b *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encodeString(b, t)
	case int:
		fmt.Fprintf(b, "%d", t)
	case int64:
		fmt.Fprintf(b, "%d", t)
	case map[string]interface{}:
		return encodeObject(b, t)
	case []interface{}:
		return encodeArray(b, t)
	default:
		return fmt.Errorf("canonicalJSON: unsupported type %T", v)
	}
	return nil
}

func encodeObject(b *strings.Builder, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeString(b, k)
		b.WriteByte(':')
		if err := encodeValue(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func encodeArray(b *strings.Builder, a []interface{}) error {
	b.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encodeValue(b, v); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// encodeString writes a JSON string literal with minimal, standard escaping.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
