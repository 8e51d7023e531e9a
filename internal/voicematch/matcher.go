// Package voicematch picks the catalog voice that best fits a personality.
//
// Scoring is a pure function of (traits, narrative, preferences, catalog):
// the same inputs always select the same entry. Each entry starts at zero and
// collects additive bonuses:
//
//   - accent: 20 for the preferred accent, otherwise 10 for American and 4
//     for British or Scottish entries
//   - gender: 10 when an explicit gender is known and matches
//   - age: 3 when the entry's age lies in the range implied by the narrative
//   - traits: an age affinity in [-0.5, 0.5] from weariness and nostalgia and
//     an assertiveness penalty in [-1, 0] for low confidence
//
// Trait terms are bounded well below the smallest accent or gender gap so they
// only reorder otherwise comparable entries. Ties keep catalog order.
package voicematch

import (
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/pkg/voice"
)

// Score weights.
const (
	PreferredAccentBonus = 20
	AmericanBonus        = 10
	OtherAccentBonus     = 4
	GenderBonus          = 10
	AgeRangeBonus        = 3
)

// Preferences are the explicit user choices used for matching.
type Preferences = personality.Preferences

// Breakdown itemises how a score was reached.
type Breakdown struct {
	Accent      float64 `json:"accent"`
	Gender      float64 `json:"gender"`
	Age         float64 `json:"age"`
	AgeAffinity float64 `json:"age_affinity"`
	Assertive   float64 `json:"assertive"`
}

// Total sums the breakdown.
func (b Breakdown) Total() float64 {
	return b.Accent + b.Gender + b.Age + b.AgeAffinity + b.Assertive
}

// Selection is a scored catalog entry.
type Selection struct {
	Entry     voice.Entry `json:"voice"`
	Score     float64     `json:"score"`
	Breakdown Breakdown   `json:"breakdown"`
}

// Stored converts the selection into the form persisted with a personality.
func (s Selection) Stored() personality.VoiceSelection {
	return personality.VoiceSelection{Voice: s.Entry, Score: s.Score}
}

// Matcher scores catalog entries. It is immutable and safe for concurrent use.
type Matcher struct {
	catalog *voice.Catalog
}

// New returns a Matcher over catalog.
func New(catalog *voice.Catalog) *Matcher {
	return &Matcher{catalog: catalog}
}

// Select returns the single best entry. It always returns exactly one catalog
// entry; among equally scored entries the first declared wins.
func (m *Matcher) Select(traits personality.Traits, narrative string, prefs Preferences) Selection {
	return m.Rank(traits, narrative, prefs)[0]
}

// Rank scores every catalog entry and returns them best first. Entries with
// equal scores keep their catalog order.
func (m *Matcher) Rank(traits personality.Traits, narrative string, prefs Preferences) []Selection {
	sig := analyse(traits, narrative, prefs)

	entries := m.catalog.All()
	out := make([]Selection, len(entries))
	for i, e := range entries {
		b := sig.score(e)
		out[i] = Selection{Entry: e, Score: b.Total(), Breakdown: b}
	}
	slices.SortStableFunc(out, func(a, b Selection) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

// signals are the matching inputs derived once per call.
type signals struct {
	accent    string
	gender    string
	ageRange  [2]int
	traits    personality.Traits
	ageWeight float64
}

func analyse(traits personality.Traits, narrative string, prefs Preferences) signals {
	words := tokenize(narrative)
	s := signals{
		traits: traits.Sanitize(),
		gender: prefs.ExplicitGender,
	}
	if s.gender == "" {
		s.gender = GenderFromNarrative(words)
	}

	switch {
	case prefs.PreferAmerican != nil && *prefs.PreferAmerican:
		s.accent = voice.AccentAmerican
	default:
		s.accent = accentFromNarrative(words)
	}

	s.ageRange = ageRange(words, s.traits)
	s.ageWeight = (s.traits.WearinessAccumulationRate+s.traits.NostalgiaBias)/2 - 0.5
	return s
}

func (s signals) score(e voice.Entry) Breakdown {
	var b Breakdown

	switch {
	case s.accent != "" && e.Accent == s.accent:
		b.Accent = PreferredAccentBonus
	case e.Accent == voice.AccentAmerican:
		b.Accent = AmericanBonus
	case e.Accent == voice.AccentBritish, e.Accent == voice.AccentScottish:
		b.Accent = OtherAccentBonus
	}

	if s.gender != "" && e.Gender == s.gender {
		b.Gender = GenderBonus
	}

	if e.Age >= s.ageRange[0] && e.Age <= s.ageRange[1] {
		b.Age = AgeRangeBonus
	}

	// Weary or nostalgic personalities lean older, fresh ones younger.
	ageFactor := min(max(float64(e.Age-30)/15, -1), 1)
	b.AgeAffinity = s.ageWeight * ageFactor

	if s.traits.ConfidenceBaseline < 0.4 && e.HasTag(voice.TagAssertive) {
		b.Assertive = -(0.4 - s.traits.ConfidenceBaseline) / 0.4
	}
	return b
}

var (
	femaleWords = []string{"she", "her", "hers", "herself", "woman", "female", "girl", "lady", "gal"}
	maleWords   = []string{"he", "him", "his", "himself", "man", "male", "boy", "guy"}
)

// GenderFromNarrative infers a gender only when every explicit gendered word
// points the same way. A narrative with words from both sides, or none,
// yields an unspecified gender. Relatives such as "mom" or "dad" are not
// counted.
func GenderFromNarrative(words []string) string {
	var female, male bool
	for _, w := range words {
		switch {
		case slices.Contains(femaleWords, w):
			female = true
		case slices.Contains(maleWords, w):
			male = true
		}
	}
	switch {
	case female && !male:
		return voice.GenderFemale
	case male && !female:
		return voice.GenderMale
	}
	return voice.GenderUnspecified
}

var accentKeywords = []struct {
	accent string
	words  []string
}{
	{voice.AccentBritish, []string{"british", "english", "uk", "london", "england"}},
	{voice.AccentScottish, []string{"scottish", "scots", "highland", "highlands", "scotland"}},
	{voice.AccentAmerican, []string{"american", "usa", "america"}},
}

func accentFromNarrative(words []string) string {
	for _, k := range accentKeywords {
		for _, w := range k.words {
			if slices.Contains(words, w) {
				return k.accent
			}
		}
	}
	return ""
}

var ageKeywords = []struct {
	lo, hi int
	words  []string
}{
	{18, 25, []string{"young", "youthful", "fresh", "energetic"}},
	{35, 60, []string{"mature", "experienced", "wise", "older", "old"}},
	{28, 45, []string{"depressed", "weary", "tired", "cynical", "exhausted"}},
}

// ageRange defaults to young adult and shifts older for weary or nostalgic
// personalities.
func ageRange(words []string, t personality.Traits) [2]int {
	r := [2]int{20, 35}
	for _, k := range ageKeywords {
		if slices.ContainsFunc(k.words, func(w string) bool { return slices.Contains(words, w) }) {
			r = [2]int{k.lo, k.hi}
			break
		}
	}
	if t.WearinessAccumulationRate > 0.7 || t.NostalgiaBias > 0.7 {
		r = [2]int{max(r[0], 30), min(r[1]+10, 60)}
	}
	return r
}

// Tokenize lower-cases s and splits it into words on anything that is not a
// letter or digit.
func Tokenize(s string) []string { return tokenize(s) }

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
