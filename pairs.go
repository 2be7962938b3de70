package laraplate

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Pair is a single field/value entry of an ACL rule mapping.
type Pair struct {
	Field string
	Value any
}

// Pairs is an ordered field→value mapping. It is stored as a JSON object and keeps
// the key order it was written with, which gives sort clauses a stable precedence.
type Pairs []Pair

// P builds Pairs from alternating field/value arguments.
//
// Example:
//
//	laraplate.P("tenant_id", 42, "status", "open")
func P(kv ...any) Pairs {
	out := make(Pairs, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		field, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = out.Set(field, kv[i+1])
	}
	return out
}

// Get returns the value stored for field.
func (p Pairs) Get(field string) (any, bool) {
	for _, pair := range p {
		if pair.Field == field {
			return pair.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing field or appends a new one.
func (p Pairs) Set(field string, value any) Pairs {
	for i := range p {
		if p[i].Field == field {
			p[i].Value = value
			return p
		}
	}
	return append(p, Pair{Field: field, Value: value})
}

// Fields returns the keys in order.
func (p Pairs) Fields() []string {
	fields := make([]string, len(p))
	for i, pair := range p {
		fields[i] = pair.Field
	}
	return fields
}

// MarshalJSON writes the pairs as a JSON object in order.
func (p Pairs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pair := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pair.Field)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. Integral numbers decode to
// int64, other numbers to float64.
func (p *Pairs) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("laraplate: pairs must be a JSON object")
	}

	out := Pairs{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, ok := tok.(string)
		if !ok {
			return fmt.Errorf("laraplate: unexpected key %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = out.Set(field, normalizeJSONValue(raw))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = out
	return nil
}

func normalizeJSONValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		for i := range val {
			val[i] = normalizeJSONValue(val[i])
		}
		return val
	default:
		return v
	}
}

// Value implements driver.Valuer.
func (p Pairs) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Pairs) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return p.UnmarshalJSON(v)
	case string:
		return p.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("laraplate: cannot scan %T into Pairs", src)
	}
}

// String renders the pairs as field=value list, mostly for logs.
func (p Pairs) String() string {
	parts := make([]string, len(p))
	for i, pair := range p {
		parts[i] = fmt.Sprintf("%s=%v", pair.Field, pair.Value)
	}
	return strings.Join(parts, ",")
}
