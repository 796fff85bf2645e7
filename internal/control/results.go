package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when a probe script's output cannot be parsed.
// It is classified as a channel failure: ambiguous output is never treated
// as success.
var ErrMalformed = errors.New("malformed control channel result")

// Element is the result of ProbeScript.
type Element struct {
	Found   bool    `json:"found"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Enabled bool    `json:"enabled"`
	Text    string  `json:"text"`
	Error   string  `json:"error,omitempty"`
}

// Ack is the result of scripts that perform a side effect.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Match is the result of FindTextScript.
type Match struct {
	Found bool   `json:"found"`
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error,omitempty"`
}

// PageText is the result of PageTextScript.
type PageText struct {
	Text string `json:"text"`
}

func decode[T any](raw, what string) (T, error) {
	var out T
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed[0] != '{' {
		return out, fmt.Errorf("%w: %s: expected JSON object, got %q", ErrMalformed, what, truncate(trimmed, 80))
	}
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
	}
	return out, nil
}

func ParseElement(raw string) (Element, error) { return decode[Element](raw, "element") }
func ParseAck(raw string) (Ack, error)         { return decode[Ack](raw, "ack") }
func ParseMatch(raw string) (Match, error)     { return decode[Match](raw, "match") }
func ParsePageText(raw string) (PageText, error) {
	return decode[PageText](raw, "page text")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
