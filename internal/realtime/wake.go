package realtime

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minFuzzyLen keeps short words like "a" or "oh" from matching names.
	minFuzzyLen = 3

	// minCommandLen is the shortest remainder treated as a command.
	minCommandLen = 3

	// AckCommand replaces a remainder too short to be a request.
	AckCommand = "yes?"
)

var greetings = []string{"hey", "hi", "hello", "ok", "okay"}

// WakeGate decides whether a transcript addresses the assistant and extracts
// the request that follows the wake phrase.
//
// A wake phrase is the assistant's name, optionally preceded by a greeting
// ("hey", "hi", "hello"). Names are matched exactly first; failing that, a
// transcript word counts as the name when their Double Metaphone codes
// overlap and their Jaro-Winkler similarity reaches the phonetic threshold,
// or when the similarity alone reaches the higher fuzzy threshold.
//
// WakeGate is read-only after construction and safe for concurrent use.
type WakeGate struct {
	policy            WakePolicy
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewWakeGate returns a gate for policy with the default thresholds.
func NewWakeGate(policy WakePolicy) *WakeGate {
	return &WakeGate{
		policy:            policy,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// Check reports whether transcript wakes the assistant called name and
// returns the command text with the wake phrase removed. A remainder shorter
// than three characters becomes [AckCommand]. Under [WakeAlways] every
// non-empty transcript wakes; the wake phrase is still stripped when present.
func (g *WakeGate) Check(transcript, name string) (command string, woke bool) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", false
	}

	start, end, found := g.locate(transcript, name)
	switch {
	case found:
		command = joinRemainder(transcript[:start], transcript[end:])
	case g.policy == WakeAlways:
		command = transcript
	default:
		return "", false
	}

	if utf8.RuneCountInString(command) < minCommandLen {
		command = AckCommand
	}
	return command, true
}

// span is a word in the transcript with its byte offsets.
type span struct {
	word       string
	start, end int
}

// locate returns the byte range of the wake phrase in transcript.
func (g *WakeGate) locate(transcript, name string) (start, end int, found bool) {
	nameWords := strings.Fields(strings.ToLower(normalizeWord(name)))
	if len(nameWords) == 0 {
		return 0, 0, false
	}
	words := splitWords(transcript)
	n := len(nameWords)
	if len(words) < n {
		return 0, 0, false
	}

	at := -1
	for i := 0; i+n <= len(words) && at < 0; i++ {
		if equalWords(words[i:i+n], nameWords) {
			at = i
		}
	}
	if at < 0 {
		best := 0.0
		nameCodes := codesFor(nameWords)
		nameJoined := strings.Join(nameWords, "")
		for i := 0; i+n <= len(words); i++ {
			if s, ok := g.fuzzy(words[i:i+n], nameCodes, nameJoined); ok && s > best {
				at, best = i, s
			}
		}
	}
	if at < 0 {
		return 0, 0, false
	}

	start, end = words[at].start, words[at+n-1].end
	if at > 0 && slices.Contains(greetings, words[at-1].word) {
		start = words[at-1].start
	}
	return start, end, true
}

func (g *WakeGate) fuzzy(window []span, nameCodes map[string]struct{}, nameJoined string) (float64, bool) {
	tokens := make([]string, len(window))
	for i, w := range window {
		if utf8.RuneCountInString(w.word) < minFuzzyLen {
			return 0, false
		}
		tokens[i] = w.word
	}
	score := matchr.JaroWinkler(strings.Join(tokens, ""), nameJoined, false)
	if codesOverlap(codesFor(tokens), nameCodes) && score >= g.phoneticThreshold {
		return score, true
	}
	return score, score >= g.fuzzyThreshold
}

func equalWords(window []span, name []string) bool {
	for i, w := range window {
		if w.word != name[i] {
			return false
		}
	}
	return true
}

// splitWords returns the lower-cased words of s with their byte offsets. A
// word is a run of letters, digits and apostrophes.
func splitWords(s string) []span {
	var out []span
	start := -1
	for i, r := range s {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		switch {
		case inWord && start < 0:
			start = i
		case !inWord && start >= 0:
			out = append(out, span{word: strings.ToLower(s[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, span{word: strings.ToLower(s[start:]), start: start, end: len(s)})
	}
	return out
}

// normalizeWord replaces everything that cannot be part of a word with a space.
func normalizeWord(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return r
		}
		return ' '
	}, s)
}

// joinRemainder stitches the text around a removed wake phrase, dropping the
// separators that only belonged to the address ("Frank, ..." or "..., Frank.").
func joinRemainder(before, after string) string {
	before = strings.TrimRightFunc(before, isSeparator)
	after = strings.TrimLeftFunc(after, isSeparator)
	switch {
	case before == "":
		return strings.TrimSpace(after)
	case after == "":
		return strings.TrimSpace(before)
	}
	r, _ := utf8.DecodeRuneInString(after)
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return strings.TrimSpace(before + " " + after)
	}
	return strings.TrimSpace(before + after)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(",.!;:-", r)
}

func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
