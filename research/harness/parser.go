package harness

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	errNoJSON      = errors.New("no JSON found in response")
	errInvalidJSON = errors.New("invalid JSON in response")
)

// OutputParser extracts structured data from model responses.
type OutputParser struct {
	fence         *regexp.Regexp
	object        *regexp.Regexp
	trailingComma *regexp.Regexp
	bareKey       *regexp.Regexp
}

// NewOutputParser creates a parser for fenced or inline JSON objects.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		fence:         regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```"),
		object:        regexp.MustCompile(`(?s)\{.*\}`),
		trailingComma: regexp.MustCompile(`,\s*([}\]])`),
		bareKey:       regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`),
	}
}

// ParseJSONOutput returns the first JSON object found in text. Markdown fences
// are unwrapped, and common formatting slips are repaired only when the raw
// object does not parse.
func (p *OutputParser) ParseJSONOutput(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if m := p.fence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	match := p.object.FindString(text)
	if match == "" {
		return nil, errNoJSON
	}
	if json.Valid([]byte(match)) {
		return json.RawMessage(match), nil
	}

	cleaned := p.fixJSON(match)
	if !json.Valid([]byte(cleaned)) {
		return nil, errInvalidJSON
	}
	return json.RawMessage(cleaned), nil
}

// fixJSON attempts to fix common JSON formatting issues.
func (p *OutputParser) fixJSON(s string) string {
	s = p.trailingComma.ReplaceAllString(s, "$1")
	s = p.bareKey.ReplaceAllString(s, `$1"$2":`)
	return strings.ReplaceAll(s, "'", "\"")
}
