// Package event builds the normalized envelopes reported to the achievement service.
package event

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"

	"badgeup.io/relay/internal/protocol"
)

// Well-known event keys.
const (
	KeyBlockBreak = "block:break"
	KeyBlockPlace = "block:place"
)

// Field is one entry of an envelope's context data. Value is already encoded,
// so an envelope never aliases caller-owned objects.
type Field struct {
	Key   string
	Value json.RawMessage
	err   error
}

// F encodes v as a context data field. Encoding errors surface from Build.
func F(key string, v any) Field {
	b, err := json.Marshal(v)
	return Field{Key: key, Value: b, err: err}
}

// Envelope is immutable once built; use Build.
type Envelope struct {
	key      string
	subject  uuid.UUID
	modifier Modifier
	data     []Field
}

// Build validates its inputs and produces an envelope. Context data keeps
// insertion order; a repeated key keeps its first position and its last value.
func Build(key string, subject uuid.UUID, mod Modifier, fields ...Field) (Envelope, error) {
	if key == "" {
		return Envelope{}, protocol.Errorf(protocol.ErrMissingField, "key", "event key is empty")
	}
	if subject == uuid.Nil {
		return Envelope{}, protocol.Errorf(protocol.ErrMissingField, "subject", "subject id is empty")
	}
	if err := mod.validate(); err != nil {
		return Envelope{}, protocol.Wrap(protocol.ErrMalformedValue, "modifier", err)
	}

	data := make([]Field, 0, len(fields))
	pos := make(map[string]int, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			return Envelope{}, protocol.Errorf(protocol.ErrMissingField, "data", "context field without key")
		}
		if f.err != nil {
			return Envelope{}, protocol.Wrap(protocol.ErrMalformedValue, f.Key, f.err)
		}
		if !json.Valid(f.Value) {
			return Envelope{}, protocol.Errorf(protocol.ErrMalformedValue, f.Key, "invalid json value")
		}
		v := append(json.RawMessage(nil), f.Value...)
		if i, ok := pos[f.Key]; ok {
			data[i].Value = v
			continue
		}
		pos[f.Key] = len(data)
		data = append(data, Field{Key: f.Key, Value: v})
	}
	return Envelope{key: key, subject: subject, modifier: mod, data: data}, nil
}

func (e Envelope) Key() string        { return e.key }
func (e Envelope) Subject() uuid.UUID { return e.subject }
func (e Envelope) Modifier() Modifier { return e.modifier }
func (e Envelope) IsZero() bool       { return e.key == "" }

// Data returns a copy of the context data in insertion order.
func (e Envelope) Data() []Field {
	out := make([]Field, len(e.data))
	for i, f := range e.data {
		out[i] = Field{Key: f.Key, Value: append(json.RawMessage(nil), f.Value...)}
	}
	return out
}

// Lookup returns the encoded value for key.
func (e Envelope) Lookup(key string) (json.RawMessage, bool) {
	for _, f := range e.data {
		if f.Key == key {
			return append(json.RawMessage(nil), f.Value...), true
		}
	}
	return nil, false
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"key":`)
	if err := writeJSON(&buf, e.key); err != nil {
		return nil, err
	}
	buf.WriteString(`,"subject":`)
	if err := writeJSON(&buf, e.subject.String()); err != nil {
		return nil, err
	}
	buf.WriteString(`,"modifier":`)
	if err := writeJSON(&buf, e.modifier); err != nil {
		return nil, err
	}
	buf.WriteString(`,"data":{`)
	for i, f := range e.data {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, f.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		buf.Write(f.Value)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
