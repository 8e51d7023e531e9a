// Package fault defines the error kinds shared by the personality pipeline,
// the realtime session and the HTTP API.
//
// Each kind is a sentinel wrapped with %w by the package that detects it.
// [CodeOf] maps any error chain to the stable wire code sent to clients in
// error events and HTTP problem bodies.
package fault

import "errors"

// Kind is a sentinel error carrying a stable wire code.
type Kind struct {
	code string
	msg  string
}

// Error implements error.
func (k *Kind) Error() string { return k.msg }

// Code returns the wire code, e.g. "profile_not_found".
func (k *Kind) Code() string { return k.code }

func newKind(code, msg string) *Kind { return &Kind{code: code, msg: msg} }

// Error kinds.
var (
	ErrExtractionUnavailable = newKind("extraction_unavailable", "trait extraction unavailable")
	ErrGenerationUnavailable = newKind("generation_unavailable", "dialogue generation unavailable")
	ErrRecognitionFailure    = newKind("recognition_failure", "speech recognition failed")
	ErrSynthesisFailure      = newKind("synthesis_failure", "speech synthesis failed")
	ErrProfileNotFound       = newKind("profile_not_found", "personality profile not found")
	ErrInvalidInput          = newKind("invalid_input", "invalid input")
)

// CodeInternal is reported for errors that match none of the kinds.
const CodeInternal = "internal"

var kinds = []*Kind{
	ErrExtractionUnavailable,
	ErrGenerationUnavailable,
	ErrRecognitionFailure,
	ErrSynthesisFailure,
	ErrProfileNotFound,
	ErrInvalidInput,
}

// CodeOf returns the wire code of the first kind found in err's chain, or
// [CodeInternal]. A nil error has an empty code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var k *Kind
	if errors.As(err, &k) {
		return k.code
	}
	return CodeInternal
}

// Codes returns every known wire code in declaration order.
func Codes() []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.code
	}
	return out
}
