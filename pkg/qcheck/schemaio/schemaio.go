// Package schemaio loads a field schema document from JSON or YAML,
// preserving the document's top-level field order so rule evaluation and
// the lint CLI iterate fields the way they were declared.
package schemaio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/qualitycheck/qcheck/pkg/qcheck"
)

// Format identifies the document's source encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// DetectFormat guesses the document format from its leading byte: a
// `{`-prefixed document is JSON, anything else is treated as YAML (a JSON
// document is, after all, valid YAML too, but a real YAML schema almost
// never opens with `{`).
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimLeftFunc(data, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// Load auto-detects the document format and decodes it into an
// order-preserving field list.
func Load(data []byte) ([]qcheck.OrderedField, error) {
	switch DetectFormat(data) {
	case FormatJSON:
		return LoadJSON(data)
	default:
		return LoadYAML(data)
	}
}

// LoadJSON decodes a JSON schema document, preserving top-level key order
// via encoding/json.Decoder's token stream (map[string]any decoding in
// the standard library does not preserve order, which is why this walks
// tokens by hand instead of a single json.Unmarshal call).
func LoadJSON(data []byte) ([]qcheck.OrderedField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("schemaio: reading opening token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("schemaio: schema document must be a JSON object")
	}

	var fields []qcheck.OrderedField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("schemaio: reading field name: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("schemaio: field name must be a string, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("schemaio: decoding field %q: %w", name, err)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("schemaio: decoding field %q: %w", name, err)
		}

		fields = append(fields, qcheck.OrderedField{Name: name, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("schemaio: reading closing token: %w", err)
	}

	return fields, nil
}

// LoadYAML decodes a YAML schema document via goccy/go-yaml's MapSlice,
// which (like gopkg.in/yaml.v2's MapSlice) preserves mapping-key order —
// plain map[string]any decoding does not.
func LoadYAML(data []byte) ([]qcheck.OrderedField, error) {
	var top yaml.MapSlice
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("schemaio: %w", err)
	}

	fields := make([]qcheck.OrderedField, 0, len(top))
	for _, item := range top {
		name, ok := item.Key.(string)
		if !ok {
			return nil, fmt.Errorf("schemaio: field name must be a string, got %v", item.Key)
		}
		fields = append(fields, qcheck.OrderedField{Name: name, Value: normalizeYAML(item.Value)})
	}
	return fields, nil
}

// normalizeYAML recursively converts goccy/go-yaml's MapSlice/MapItem
// decode shapes into plain map[string]any/[]any, matching what
// encoding/json would have produced — rule handlers only ever type-switch
// on map[string]any and []any, never on MapSlice.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case yaml.MapSlice:
		out := make(map[string]any, len(x))
		for _, item := range x {
			key := fmt.Sprintf("%v", item.Key)
			out[key] = normalizeYAML(item.Value)
		}
		return out
	case yaml.MapItem:
		return map[string]any{fmt.Sprintf("%v", x.Key): normalizeYAML(x.Value)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeYAML(e)
		}
		return out
	case uint64:
		return int64(x)
	case int:
		return int64(x)
	default:
		return x
	}
}

// FormatName renders f for diagnostics (e.g. the CLI's schema-decoding
// error messages).
func FormatName(f Format) string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// ParseFormat maps a CLI-supplied --format value to a Format.
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, true
	case "yaml", "yml":
		return FormatYAML, true
	default:
		return FormatJSON, false
	}
}
