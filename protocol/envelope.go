package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// URL is the request target forwarded to the renderer.
type URL struct {
	Path  string  `json:"path"`
	Query *string `json:"query"`
}

// Envelope is the metadata sent ahead of the payload.
// RequestID is only used for log correlation.
// RequestRenderer is nil when the renderer should use its global module.
type Envelope struct {
	RequestID       uuid.UUID `json:"requestId"`
	RequestRenderer *string   `json:"requestRenderer"`
	URL             URL       `json:"url"`
}

func NewEnvelope(id uuid.UUID, renderer *string, path string, query *string) Envelope {
	return Envelope{
		RequestID:       id,
		RequestRenderer: renderer,
		URL:             URL{Path: path, Query: query},
	}
}

// EncodeMeta encodes env as plain JSON. Unlike the data section, the meta is not HTML-escaped.
func EncodeMeta(env Envelope) ([]byte, error) {
	b, err := marshalNoEscape(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return b, nil
}

func marshalNoEscape(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(v)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func DecodeMeta(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)
	if err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}

// EncodeData encodes v as JSON, then encodes that JSON text as a JSON string.
// Only the outer encoding escapes HTML characters, so decoding twice yields the payload JSON unchanged.
func EncodeData(v any) ([]byte, error) {
	inner, err := marshalNoEscape(v)
	if err != nil {
		return nil, fmt.Errorf("encoding data: %w", err)
	}

	// json.Marshal escapes <, > and & in strings
	b, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("encoding data string: %w", err)
	}
	return b, nil
}

// DecodeDataJSON undoes the outer string encoding of EncodeData and returns the payload JSON.
func DecodeDataJSON(b []byte) (json.RawMessage, error) {
	var s string
	err := json.Unmarshal(b, &s)
	if err != nil {
		return nil, fmt.Errorf("decoding data string: %w", err)
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("data string does not contain valid JSON")
	}
	return json.RawMessage(s), nil
}

// DecodeData decodes data produced by EncodeData into v.
func DecodeData(b []byte, v any) error {
	raw, err := DecodeDataJSON(b)
	if err != nil {
		return err
	}
	err = json.Unmarshal(raw, v)
	if err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	return nil
}
