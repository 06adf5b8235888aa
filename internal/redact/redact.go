// Package redact scrubs secret-shaped substrings and oversized values out of
// anything headed for a log line, the audit file, or the memory store.
//
// Redaction runs in two passes over every string: the named patterns first,
// then a generic long-token pass. The result is truncated last so a marker is
// never cut in half. Sanitizing is idempotent and never panics.
package redact

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// SecretMarker replaces substrings matched by a named secret pattern.
	SecretMarker = "<REDACTED_API_KEY>"

	// TokenMarker replaces any run of 64 or more token-alphabet characters.
	TokenMarker = "<REDACTED_TOKEN>"

	// KeyMarker replaces the whole value of a sensitive mapping key.
	KeyMarker = "***REDACTED***"

	// TruncatedMarker is appended to strings cut down to the max length.
	// It must not start with a token-alphabet character.
	TruncatedMarker = "…<TRUNCATED>"

	// DefaultMaxLen is the default string length cap.
	DefaultMaxLen = 300
)

// Pattern is a named secret shape and the marker that replaces it.
type Pattern struct {
	Name   string
	Re     *regexp.Regexp
	Marker string
}

// DefaultPatterns is the minimum secret-pattern set.
var DefaultPatterns = []Pattern{
	// cloud API keys: fixed prefix then 30+ opaque chars
	{Name: "google_api_key", Re: regexp.MustCompile(`AIza[0-9A-Za-z\-_]{30,}`), Marker: SecretMarker},
	// key=value / key: value assignments
	{Name: "assigned_secret", Re: regexp.MustCompile(`(?i)(?:api_key|api-key|apikey|secret|token)[=:]\s*[A-Za-z0-9\-_.]{16,}`), Marker: SecretMarker},
	// static access key ids
	{Name: "aws_access_key_id", Re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), Marker: SecretMarker},
}

var genericToken = regexp.MustCompile(`[A-Za-z0-9\-_]{64,}`)

var sensitiveKeys = []string{"api_key", "password", "token", "secret", "authorization"}

var markers = []string{SecretMarker, TokenMarker, KeyMarker}

// Sanitizer redacts and truncates values.
type Sanitizer struct {
	maxLen   int
	patterns []Pattern
}

// New returns a Sanitizer that caps strings at maxLen bytes (0 disables
// truncation) and applies DefaultPatterns plus any extra patterns.
func New(maxLen int, extra ...Pattern) *Sanitizer {
	if maxLen < 0 {
		maxLen = 0
	}
	patterns := make([]Pattern, 0, len(DefaultPatterns)+len(extra))
	patterns = append(patterns, DefaultPatterns...)
	patterns = append(patterns, extra...)
	return &Sanitizer{maxLen: maxLen, patterns: patterns}
}

// MaxLen reports the configured truncation length.
func (s *Sanitizer) MaxLen() int { return s.maxLen }

var (
	std         = New(DefaultMaxLen)
	secretsOnly = New(0)
)

// String sanitizes s with the default Sanitizer.
func String(s string) string { return std.String(s) }

// Value sanitizes v with the default Sanitizer.
func Value(v any) any { return std.Value(v) }

// Fields sanitizes a structured log payload with the default Sanitizer.
func Fields(m map[string]any) map[string]any { return std.Fields(m) }

// Secrets redacts secret patterns from s without truncating it.
func Secrets(s string) string { return secretsOnly.String(s) }

// SensitiveKey reports whether a mapping key names a credential.
func SensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(k, sk) {
			return true
		}
	}
	return false
}

// String redacts secret patterns in v, then truncates it.
func (s *Sanitizer) String(v string) string {
	out := v
	for _, p := range s.patterns {
		out = p.Re.ReplaceAllLiteralString(out, p.Marker)
	}
	out = genericToken.ReplaceAllLiteralString(out, TokenMarker)
	return s.truncate(out)
}

// Value sanitizes v recursively. Mappings keep their keys and type,
// sequences keep their type and order, other primitives come back unchanged. Anything that cannot
// be walked is converted to a string first.
func (s *Sanitizer) Value(v any) any {
	return s.safeWalk(v, false)
}

// Fields sanitizes a structured payload: values under sensitive key names
// are replaced with KeyMarker outright, everything else is pattern-sanitized.
func (s *Sanitizer) Fields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, ok := s.safeWalk(m, true).(map[string]any)
	if !ok {
		return map[string]any{"details": KeyMarker}
	}
	return out
}

func (s *Sanitizer) safeWalk(v any, keyed bool) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = s.String(fmt.Sprintf("%T", v))
		}
	}()
	return s.walk(v, keyed)
}

func (s *Sanitizer) walk(v any, keyed bool) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return s.String(t)
	case []byte:
		return s.String(string(t))
	case error:
		return s.String(t.Error())
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Duration, time.Time, json.Number:
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if keyed && SensitiveKey(k) {
				out[k] = KeyMarker
				continue
			}
			out[k] = s.walk(val, keyed)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			if keyed && SensitiveKey(k) {
				out[k] = KeyMarker
				continue
			}
			out[k] = s.String(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.walk(val, keyed)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = s.String(val)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, val := range t {
			out[i], _ = s.walk(val, keyed).(map[string]any)
		}
		return out
	case fmt.Stringer:
		return s.String(t.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		// named string types keep their type
		cp := reflect.New(rv.Type()).Elem()
		cp.SetString(s.String(rv.String()))
		return cp.Interface()
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return v
		}
		out := reflect.New(rv.Type()).Elem()
		if rv.Kind() == reflect.Slice {
			out = reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		}
		et := rv.Type().Elem()
		for i := 0; i < rv.Len(); i++ {
			elem, ok := s.walkElem(rv.Index(i), et, keyed)
			if !ok {
				return s.walkJSON(v, keyed)
			}
			out.Index(i).Set(elem)
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		et := rv.Type().Elem()
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key()
			if keyed && k.Kind() == reflect.String && SensitiveKey(k.String()) {
				out.SetMapIndex(k, keyMarkerOf(et))
				continue
			}
			elem, ok := s.walkElem(iter.Value(), et, keyed)
			if !ok {
				return s.walkJSON(v, keyed)
			}
			out.SetMapIndex(k, elem)
		}
		return out.Interface()
	}
	return s.walkJSON(v, keyed)
}

// walkElem sanitizes one container element and converts it back to the
// element type. ok is false when the sanitized value no longer fits.
func (s *Sanitizer) walkElem(elem reflect.Value, typ reflect.Type, keyed bool) (reflect.Value, bool) {
	out := s.walk(elem.Interface(), keyed)
	if out == nil {
		return reflect.Zero(typ), true
	}
	ov := reflect.ValueOf(out)
	switch {
	case ov.Type().AssignableTo(typ):
		return ov, true
	case ov.Kind() == typ.Kind() && ov.Type().ConvertibleTo(typ):
		return ov.Convert(typ), true
	}
	return reflect.Value{}, false
}

// keyMarkerOf is KeyMarker as a value of t, or t's zero value when t cannot
// hold a string.
func keyMarkerOf(t reflect.Type) reflect.Value {
	m := reflect.ValueOf(KeyMarker)
	switch {
	case m.Type().AssignableTo(t):
		return m
	case t.Kind() == reflect.String:
		return m.Convert(t)
	}
	return reflect.Zero(t)
}

// walkJSON sanitizes structs, pointers and anything else without a direct
// walk through their JSON shape.
func (s *Sanitizer) walkJSON(v any, keyed bool) any {
	b, err := json.Marshal(v)
	if err != nil {
		return s.String(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return s.String(string(b))
	}
	return s.walk(generic, keyed)
}

func (s *Sanitizer) truncate(v string) string {
	if s.maxLen <= 0 || len(v) <= s.maxLen {
		return v
	}
	cut := s.maxLen - len(TruncatedMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	cut = markerSafeCut(v, cut)
	return v[:cut] + TruncatedMarker
}

// markerSafeCut moves cut back to the start of any marker it would split.
func markerSafeCut(v string, cut int) int {
	for _, m := range markers {
		from := 0
		for {
			i := strings.Index(v[from:], m)
			if i < 0 {
				break
			}
			start := from + i
			if start >= cut {
				break
			}
			if cut < start+len(m) {
				cut = start
				break
			}
			from = start + len(m)
		}
	}
	return cut
}
