// Package voice holds the read-only catalog of synthetic voices a personality
// can be matched to.
//
// A [Catalog] is built once at startup (from [Builtin] or a YAML override via
// [LoadFile]) and is immutable afterwards, so any number of goroutines may
// read from it concurrently without synchronisation.
package voice

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by [Catalog.Lookup] when no entry has the requested code.
var ErrNotFound = errors.New("voice: not found")

// Gender tags.
const (
	GenderFemale      = "F"
	GenderMale        = "M"
	GenderUnspecified = ""
)

// Accent labels used by the built-in catalog.
const (
	AccentAmerican = "American"
	AccentBritish  = "British"
	AccentScottish = "Scottish"
)

// Tags recognised by the voice matcher.
const (
	TagAssertive = "assertive"
	TagWarm      = "warm"
)

// VCTKModel is the multi-speaker engine model shared by all VCTK entries.
const VCTKModel = "tts_models/en/vctk/vits"

// Entry describes a single synthesisable voice.
type Entry struct {
	// Code is the unique identifier used by clients and the matcher ("p297", "jenny").
	Code string `json:"code" yaml:"code"`

	// Model is the synthesis engine model identifier.
	Model string `json:"model" yaml:"model"`

	// Speaker selects a speaker inside a multi-speaker model. Empty for
	// single-speaker models.
	Speaker string `json:"speaker,omitempty" yaml:"speaker"`

	// Gender is [GenderFemale], [GenderMale] or [GenderUnspecified].
	Gender string `json:"gender" yaml:"gender"`

	// Age is the approximate speaker age in years.
	Age int `json:"age" yaml:"age"`

	Accent      string   `json:"accent" yaml:"accent"`
	Region      string   `json:"region,omitempty" yaml:"region"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
}

// HasTag reports whether the entry carries tag.
func (e Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// MultiSpeaker reports whether the entry addresses a speaker inside a shared model.
func (e Entry) MultiSpeaker() bool {
	return e.Speaker != ""
}

// Catalog is an ordered, immutable set of voice entries.
type Catalog struct {
	entries []Entry
	index   map[string]int
}

// New validates entries and returns a catalog preserving their order.
// The slice is copied; later changes by the caller have no effect.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, errors.New("voice: catalog must contain at least one entry")
	}

	c := &Catalog{
		entries: make([]Entry, len(entries)),
		index:   make(map[string]int, len(entries)),
	}

	var errs []error
	for i, e := range entries {
		if err := validateEntry(i, e); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.index[e.Code]; dup {
			errs = append(errs, fmt.Errorf("voice: entries[%d]: duplicate code %q", i, e.Code))
			continue
		}
		e.Tags = slices.Clone(e.Tags)
		c.entries[i] = e
		c.index[e.Code] = i
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func validateEntry(i int, e Entry) error {
	var errs []error
	if e.Code == "" {
		errs = append(errs, fmt.Errorf("voice: entries[%d]: code is required", i))
	}
	if e.Model == "" {
		errs = append(errs, fmt.Errorf("voice: entries[%d]: model is required", i))
	}
	switch e.Gender {
	case GenderFemale, GenderMale, GenderUnspecified:
	default:
		errs = append(errs, fmt.Errorf("voice: entries[%d]: invalid gender %q", i, e.Gender))
	}
	if e.Age <= 0 {
		errs = append(errs, fmt.Errorf("voice: entries[%d]: age must be positive", i))
	}
	return errors.Join(errs...)
}

// All returns a copy of the entries in declaration order.
func (c *Catalog) All() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		e.Tags = slices.Clone(e.Tags)
		out[i] = e
	}
	return out
}

// Lookup returns the entry with the given code, or [ErrNotFound].
func (c *Catalog) Lookup(code string) (Entry, error) {
	i, ok := c.index[code]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, code)
	}
	e := c.entries[i]
	e.Tags = slices.Clone(e.Tags)
	return e, nil
}

// Default returns the first declared entry.
func (c *Catalog) Default() Entry {
	e := c.entries[0]
	e.Tags = slices.Clone(e.Tags)
	return e
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// catalogFile is the on-disk YAML layout accepted by [LoadFile].
type catalogFile struct {
	Voices []Entry `yaml:"voices"`
}

// LoadFile reads a YAML catalog of the form
//
//	voices:
//	  - code: p297
//	    model: tts_models/en/vctk/vits
//	    speaker: p297
//	    gender: F
//	    age: 27
//	    accent: American
//
// and returns the validated catalog.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("voice: open catalog: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cf catalogFile
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("voice: decode catalog %q: %w", path, err)
	}
	return New(cf.Voices)
}
