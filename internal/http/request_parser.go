// Package http provides HTTP server and handler implementations.
//
// This file reads request bodies. Handlers accept either JSON objects or
// form-encoded bodies and read fields by name, so the dashboard form and
// API clients share one code path.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxBodyBytes caps request bodies; the largest valid payload is a few
// hundred bytes.
const maxBodyBytes = 64 << 10

var (
	ErrBodyTooLarge = errors.New("request body too large")
	ErrMalformed    = errors.New("malformed request body")
)

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

// NewRequestBodyParser reads the body once and stores it for parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	if r.Body == nil {
		return p
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	switch {
	case err != nil:
		p.err = err
	case len(body) > maxBodyBytes:
		p.err = ErrBodyTooLarge
	default:
		p.body = body
	}
	return p
}

// Parse decodes the body as a JSON object or, failing the JSON sniff, as
// form data. A body that looks like JSON but does not decode is malformed.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = errors.Join(ErrMalformed, err)
			return p.err
		}
		if dec.More() {
			p.err = ErrMalformed
			return p.err
		}
		return nil
	}

	form, err := url.ParseQuery(string(trimmed))
	if err != nil {
		p.err = errors.Join(ErrMalformed, err)
		return p.err
	}
	p.formData = form
	return nil
}

// Has reports whether key was sent at all, even with an empty value.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		v, ok := p.jsonData[key]
		return ok && v != nil
	}
	if p.formData != nil {
		_, ok := p.formData[key]
		return ok
	}
	return false
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// confirmed reads the delete confirmation flag from the query string.
func confirmed(r *http.Request) bool {
	ok, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("confirm")))
	return err == nil && ok
}
