package ir

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// EncodeCompletion serializes a completion the way backends report it.
//
// Output is deterministic: keys sorted, no HTML escaping, no trailing
// newline, absent message and error omitted. Text that is not valid UTF-8
// is rejected, since JSON would replace the invalid bytes.
func EncodeCompletion(c Completion) (string, error) {
	if !utf8.ValidString(c.MessageText()) || !utf8.ValidString(c.ErrorText()) {
		return "", fmt.Errorf("encode completion %d: %w", c.ID, ErrInvalidText)
	}
	fields := map[string]any{
		"id":      int64(c.ID),
		"success": c.Success,
	}
	if c.Message != nil {
		fields["message"] = *c.Message
	}
	if c.Error != nil {
		fields["error"] = *c.Error
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalNoEscape(k)
		if err != nil {
			return "", fmt.Errorf("encode completion key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := marshalNoEscape(fields[k])
		if err != nil {
			return "", fmt.Errorf("encode completion %s: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')

	return buf.String(), nil
}

// MustEncodeCompletion is like EncodeCompletion but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEncodeCompletion(c Completion) string {
	s, err := EncodeCompletion(c)
	if err != nil {
		panic(err)
	}
	return s
}

// marshalNoEscape marshals v with HTML escaping disabled.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeCompletion parses a raw completion record.
//
// The record must be a JSON object with an integer "id". Unknown fields are
// ignored so backends may attach diagnostics.
func DecodeCompletion(raw string) (Completion, error) {
	var wire struct {
		ID      json.RawMessage `json:"id"`
		Success bool            `json:"success"`
		Message *string         `json:"message"`
		Error   *string         `json:"error"`
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&wire); err != nil {
		return Completion{}, fmt.Errorf("decode completion: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Completion{}, fmt.Errorf("decode completion: trailing data after record")
	}
	if len(wire.ID) == 0 || string(wire.ID) == "null" {
		return Completion{}, fmt.Errorf("decode completion: missing id")
	}
	id, err := strconv.ParseInt(string(wire.ID), 10, 64)
	if err != nil {
		return Completion{}, fmt.Errorf("decode completion: id %s is not an integer", wire.ID)
	}

	return Completion{
		ID:      CorrelationID(id),
		Success: wire.Success,
		Message: wire.Message,
		Error:   wire.Error,
	}, nil
}

// ErrInvalidText is returned for text values that are not valid UTF-8.
// Binary data must travel through EncodeBinary instead.
var ErrInvalidText = errors.New("text is not valid UTF-8")

// EncodeBinary converts raw bytes to their text transport form.
func EncodeBinary(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBinary reverses EncodeBinary.
func DecodeBinary(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode binary: %w", err)
	}
	return b, nil
}

// NormalizeKey returns the NFC form of a store name or key, so canonically
// equivalent spellings ("é" precomposed or decomposed) address the same entry.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}
