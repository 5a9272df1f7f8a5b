package command

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Params is the loosely typed parameter map of a CanvasAction. Numbers may arrive as JSON
// numbers, Go numbers or numeric strings.
type Params map[string]any

func (p Params) has(key string) bool {
	_, ok := p[key]
	return ok
}

// Float returns the first of keys that holds a number.
func (p Params) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := toFloat(p[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func (p Params) Int(keys ...string) (int, bool) {
	f, ok := p.Float(keys...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func (p Params) String(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := p[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// Map returns a nested parameter map.
func (p Params) Map(key string) (Params, bool) {
	switch v := p[key].(type) {
	case map[string]any:
		return Params(v), true
	case Params:
		return v, true
	}
	return nil, false
}

func (p Params) Strings(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		if ss, ok := p[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
