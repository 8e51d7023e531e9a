package dialogue

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Command tokens understood by the appliance.
const (
	CommandStartBrew  = "start_brew"
	CommandStopBrew   = "stop_brew"
	CommandKeepWarm   = "keep_warm"
	CommandCleanCycle = "clean_cycle"
)

// Trigger maps a reply phrase to a command token.
type Trigger struct {
	Phrase  string `yaml:"phrase" json:"phrase"`
	Command string `yaml:"command" json:"command"`
}

// DefaultTriggers returns the built-in phrase table for a coffee maker.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{"start brewing", CommandStartBrew},
		{"start the brew", CommandStartBrew},
		{"starting the brew", CommandStartBrew},
		{"get the brew", CommandStartBrew},
		{"brew cycle started", CommandStartBrew},
		{"brewing now", CommandStartBrew},
		{"brewing a fresh pot", CommandStartBrew},
		{"make you a coffee", CommandStartBrew},
		{"making your coffee", CommandStartBrew},
		{"coffee coming up", CommandStartBrew},

		{"stop brewing", CommandStopBrew},
		{"stop the brew", CommandStopBrew},
		{"stopping the brew", CommandStopBrew},
		{"stopping now", CommandStopBrew},
		{"cancel the brew", CommandStopBrew},

		{"keep it warm", CommandKeepWarm},
		{"keeping it warm", CommandKeepWarm},

		{"cleaning cycle", CommandCleanCycle},
		{"descale", CommandCleanCycle},
		{"descaling", CommandCleanCycle},
	}
}

type compiledTrigger struct {
	re      *regexp.Regexp
	command string
}

// CommandTable scans replies for trigger phrases. It is immutable once
// compiled and safe for concurrent use.
type CommandTable struct {
	triggers []compiledTrigger
}

// NewCommandTable compiles triggers into a case-insensitive matcher. Phrases
// only match whole words and whitespace inside a phrase matches any run of
// whitespace.
func NewCommandTable(triggers []Trigger) (*CommandTable, error) {
	t := &CommandTable{triggers: make([]compiledTrigger, 0, len(triggers))}
	var errs []error
	for i, tr := range triggers {
		words := strings.Fields(strings.ToLower(tr.Phrase))
		if len(words) == 0 {
			errs = append(errs, fmt.Errorf("dialogue: triggers[%d]: phrase must not be empty", i))
			continue
		}
		if strings.TrimSpace(tr.Command) == "" {
			errs = append(errs, fmt.Errorf("dialogue: triggers[%d]: command must not be empty", i))
			continue
		}
		phrase := strings.Join(words, " ")
		for j, w := range words {
			words[j] = regexp.QuoteMeta(w)
		}
		expr := strings.Join(words, `\s+`)
		if isWordByte(phrase[0]) {
			expr = `\b` + expr
		}
		if isWordByte(phrase[len(phrase)-1]) {
			expr += `\b`
		}
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("dialogue: triggers[%d]: %w", i, err))
			continue
		}
		t.triggers = append(t.triggers, compiledTrigger{re: re, command: tr.Command})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// MustCommandTable is like [NewCommandTable] but panics on error.
func MustCommandTable(triggers []Trigger) *CommandTable {
	t, err := NewCommandTable(triggers)
	if err != nil {
		panic(err)
	}
	return t
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

type match struct {
	start, end int
	command    string
}

// Scan returns the command tokens triggered by reply, in order of first
// appearance and without duplicates.
//
// Matches are chosen left to right; at equal start the longest phrase wins
// and any match overlapping an already chosen one is dropped. A reply with no
// trigger yields an empty, non-nil slice.
func (t *CommandTable) Scan(reply string) []string {
	var all []match
	for _, tr := range t.triggers {
		for _, loc := range tr.re.FindAllStringIndex(reply, -1) {
			all = append(all, match{start: loc[0], end: loc[1], command: tr.command})
		}
	}
	slices.SortFunc(all, func(a, b match) int {
		return cmp.Or(cmp.Compare(a.start, b.start), cmp.Compare(b.end, a.end))
	})

	out := []string{}
	end := -1
	for _, m := range all {
		if m.start < end {
			continue
		}
		end = m.end
		if !slices.Contains(out, m.command) {
			out = append(out, m.command)
		}
	}
	return out
}

// Len returns the number of compiled triggers.
func (t *CommandTable) Len() int { return len(t.triggers) }
