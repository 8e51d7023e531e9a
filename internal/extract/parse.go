package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/personality"
)

// maxThemes caps the number of themes kept from a model response.
const maxThemes = 8

// Parse validates a raw model response and turns it into a [Result].
//
// Parsing is total for any JSON object: traits may sit under "traits" or at
// the top level, numeric strings are accepted, and anything missing, invalid
// or non-finite becomes the default before every value is clamped into
// [0, 1]. A literal too large for float64 is out of range like any other and
// clamps to the nearest bound. Categoricals are matched case-insensitively and fall back to their
// defaults. Input that is not a JSON object, even after repair, yields
// [fault.ErrExtractionUnavailable].
func Parse(raw string) (Result, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Fallback(), fmt.Errorf("extract: %w: %w", fault.ErrExtractionUnavailable, err)
	}

	traitSrc := obj
	if nested, ok := obj["traits"].(map[string]any); ok {
		traitSrc = nested
	}

	traits := personality.DefaultTraits()
	for _, name := range personality.TraitNames {
		if v, ok := number(traitSrc[name]); ok {
			traits.Set(name, v)
		}
	}
	traits.TemporalResolution = categorical(obj, traitSrc, "temporal_resolution")
	traits.PatternWindow = categorical(obj, traitSrc, "pattern_window")

	summary, _ := obj["narrative_context"].(string)
	if summary == "" {
		summary, _ = obj["summary"].(string)
	}

	return Result{
		Traits:  traits.Sanitize(),
		Summary: strings.TrimSpace(summary),
		Themes:  themes(obj["themes"]),
	}, nil
}

// decodeObject extracts the JSON object from raw, repairing it when the
// model produced slightly broken JSON.
func decodeObject(raw string) (map[string]any, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, errors.New("empty response")
	}
	// Drop prose around the object, but keep a truncated tail for repair.
	if start := strings.IndexByte(text, '{'); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndexByte(text, '}'); end >= 0 && end < len(text)-1 && json.Valid([]byte(text[:end+1])) {
		text = text[:end+1]
	}

	v, err := unmarshal(text)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, err
		}
		fixed, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, fmt.Errorf("repair json: %w", repairErr)
		}
		if v, err = unmarshal(fixed); err != nil {
			return nil, fmt.Errorf("decode repaired json: %w", err)
		}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is %T, not a JSON object", v)
	}
	return obj, nil
}

// unmarshal decodes one JSON value, keeping numbers as [json.Number] so an
// overflowing literal reaches [number] instead of failing the whole object.
func unmarshal(text string) (any, error) {
	var v any
	if !json.Valid([]byte(text)) {
		// Reports the *json.SyntaxError that triggers repair.
		return nil, json.Unmarshal([]byte(text), &v)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// stripFences removes a surrounding markdown code fence such as ```json ... ```.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		return parseFloat(string(x))
	case string:
		return parseFloat(strings.TrimSpace(x))
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// parseFloat parses s, saturating a literal beyond float64 range to
// ±MaxFloat64 so that clamping treats it as any other out-of-range value.
// Explicit "Inf" and "NaN" still parse as non-finite.
func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	switch {
	case err == nil:
		return f, true
	case errors.Is(err, strconv.ErrRange):
		if math.IsInf(f, 0) {
			f = math.Copysign(math.MaxFloat64, f)
		}
		return f, true
	}
	return 0, false
}

// categorical reads key from the top level first, then the traits object.
// Invalid values are left for Sanitize to repair.
func categorical(top, traits map[string]any, key string) string {
	s, ok := top[key].(string)
	if !ok {
		s, _ = traits[key].(string)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func themes(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, min(len(list), maxThemes))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxThemes {
			break
		}
	}
	return out
}
