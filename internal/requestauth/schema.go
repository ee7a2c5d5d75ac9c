package requestauth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Security headers carried by every mutating request.
const (
	HeaderSignature = "X-Hash-Seguridad"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
)

// Origin is the constant origin marker bound into every signature.
const Origin = "frontend"

const (
	keyTimestamp = "timestamp"
	keyNonce     = "nonce"
	keyOrigin    = "origen"
)

var ErrInvalidFieldType = errors.New("signed field must be a string, a finite number or null")

// Value is a signed field value: a JSON string or a JSON number. Numbers keep
// the text browser JSON.stringify produces for them.
type Value struct {
	text   string
	number bool
}

// String returns a string value; convenient for building Fields literals.
func String(v string) *Value {
	return &Value{text: v}
}

// Number returns a numeric value. NaN and infinities have no JSON form.
func Number(v float64) (*Value, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, ErrInvalidFieldType
	}
	if v == 0 {
		// JSON.stringify(-0) is "0".
		return &Value{text: "0", number: true}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFieldType, err)
	}
	return &Value{text: string(raw), number: true}, nil
}

// Text is the string content, or the canonical digits of a number.
func (v Value) Text() string {
	return v.text
}

func (v Value) IsNumber() bool {
	return v.number
}

func (v Value) canonical() []byte {
	if v.number {
		return []byte(v.text)
	}
	return encodeString(v.text)
}

// Fields holds the request-specific values covered by a signature. A nil
// pointer means the field is absent and is left out of the canonical form.
type Fields struct {
	Action              *Value
	EncryptedPayloadRef *Value
	EventType           *Value
}

// FieldSpec binds a wire key to its slot in Fields.
type FieldSpec struct {
	Key  string
	slot func(*Fields) **Value
}

// Schema is the whitelist of body fields included in the canonical payload.
// Signer, verifier and body decoding all read it, so the three cannot drift.
var Schema = []FieldSpec{
	{Key: "accion", slot: func(f *Fields) **Value { return &f.Action }},
	{Key: "datosCifrados", slot: func(f *Fields) **Value { return &f.EncryptedPayloadRef }},
	{Key: "tipo_evento", slot: func(f *Fields) **Value { return &f.EventType }},
}

// RequiredHeaders lists the security header names in lower case, as clients send them.
func RequiredHeaders() []string {
	return []string{
		strings.ToLower(HeaderSignature),
		strings.ToLower(HeaderTimestamp),
		strings.ToLower(HeaderNonce),
	}
}

// Get returns the text of the value stored under a wire key.
func (f Fields) Get(key string) (string, bool) {
	for _, entry := range Schema {
		if entry.Key != key {
			continue
		}
		if v := *entry.slot(&f); v != nil {
			return v.text, true
		}
		return "", false
	}
	return "", false
}

// DecodeFields extracts the whitelisted fields from a JSON request body.
// Keys outside Schema are ignored; an empty body yields empty Fields.
func DecodeFields(body []byte) (Fields, error) {
	var out Fields
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Fields{}, fmt.Errorf("decode request body: %w", err)
	}
	for _, entry := range Schema {
		value, ok := raw[entry.Key]
		if !ok || string(bytes.TrimSpace(value)) == "null" {
			continue
		}
		v, err := decodeValue(value)
		if err != nil {
			return Fields{}, fmt.Errorf("%w: %s", ErrInvalidFieldType, entry.Key)
		}
		*entry.slot(&out) = v
	}
	return out, nil
}

func decodeValue(raw json.RawMessage) (*Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return nil, err
	}
	return Number(f)
}

// Payload is the canonical envelope a signature covers.
type Payload struct {
	Fields    Fields
	Timestamp int64
	Nonce     string
	Origin    string
	Canonical []byte
}

// MarshalJSON emits the exact canonical bytes that were signed.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p.Canonical) == 0 {
		return Canonicalize(p.Fields, p.Timestamp, p.Nonce), nil
	}
	return p.Canonical, nil
}

func newPayload(fields Fields, timestamp int64, nonce string) Payload {
	return Payload{
		Fields:    fields,
		Timestamp: timestamp,
		Nonce:     nonce,
		Origin:    Origin,
		Canonical: Canonicalize(fields, timestamp, nonce),
	}
}

// Canonicalize serialises the envelope as compact JSON with keys sorted
// lexicographically. Absent fields are omitted.
func Canonicalize(fields Fields, timestamp int64, nonce string) []byte {
	entries := make(map[string][]byte, len(Schema)+3)
	for _, entry := range Schema {
		if v := *entry.slot(&fields); v != nil {
			entries[entry.Key] = v.canonical()
		}
	}
	entries[keyTimestamp] = []byte(strconv.FormatInt(timestamp, 10))
	entries[keyNonce] = encodeString(nonce)
	entries[keyOrigin] = encodeString(Origin)

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(encodeString(k))
		buf.WriteByte(':')
		buf.Write(entries[k])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// encodeString quotes s the way browser JSON.stringify does: no HTML escaping.
func encodeString(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}
