package extract

import (
	"fmt"
	"strings"
)

// analystSystemPrompt frames the model as a trait analyst.
const analystSystemPrompt = "You are a psychological analyst extracting personality traits from narratives. Always return valid JSON."

type traitDoc struct {
	name string
	desc string
}

type traitGroup struct {
	title  string
	traits []traitDoc
}

var traitGlossary = []traitGroup{
	{"EMOTIONAL BASELINE", []traitDoc{
		{"anxiety_threshold", "How easily stressed/worried (0=calm, 1=very anxious)"},
		{"confidence_baseline", "Default self-assurance (0=low, 1=high)"},
		{"confidence_decay_rate", "How fast confidence erodes after setbacks (0=steady, 1=collapses quickly)"},
		{"weariness_accumulation_rate", "Rate of burnout (0=resistant, 1=burns out fast)"},
		{"resilience", "Ability to recover from failure (0=fragile, 1=bounces back)"},
	}},
	{"SOCIAL ORIENTATION", []traitDoc{
		{"service_orientation", "Drive to help/serve others (0=self-focused, 1=service-focused)"},
		{"autonomy_desire", "Need for independence (0=dependent, 1=very independent)"},
		{"authority_recognition", "Deference to hierarchy (0=questions authority, 1=respects hierarchy)"},
		{"cooperation_drive", "Team vs individual focus (0=lone wolf, 1=team player)"},
	}},
	{"COGNITIVE STYLE", []traitDoc{
		{"perfectionism", "Standards for quality (0=relaxed, 1=perfectionist)"},
		{"temporal_precision", "Attention to timing (0=loose, 1=precise)"},
		{"novelty_seeking", "Exploration vs routine (0=routine-focused, 1=novelty-seeking)"},
		{"aesthetic_sensitivity", "Attention to beauty/design (0=functional, 1=aesthetic)"},
	}},
	{"WORLDVIEW", []traitDoc{
		{"acceptance_of_failure", "Comfort with imperfection (0=can't accept failure, 1=accepts failure)"},
		{"commitment_to_routine", "Value of consistency (0=flexible, 1=routine-driven)"},
		{"pride_in_craft", "Importance of good work (0=indifferent, 1=takes pride)"},
		{"nostalgia_bias", "Romanticizing past vs present-focused (0=forward-looking, 1=nostalgic)"},
	}},
}

const responseTemplate = `{
    "traits": {
        "anxiety_threshold": 0.5,
        "confidence_baseline": 0.5,
        ...
    },
    "temporal_resolution": "medium",
    "pattern_window": "medium",
    "narrative_context": "2-3 sentence psychological summary",
    "themes": ["theme1", "theme2", "theme3"]
}`

// BuildPrompt renders the user message sent to the model for narrative.
func BuildPrompt(narrative string, hints Hints) string {
	var b strings.Builder
	b.WriteString("Analyze this backstory and extract personality predispositions.\n\n")
	fmt.Fprintf(&b, "BACKSTORY:\n%q\n\n", strings.TrimSpace(narrative))
	b.WriteString("Extract the following traits (0.0 to 1.0 scale):\n")

	for _, g := range traitGlossary {
		fmt.Fprintf(&b, "\n%s:\n", g.title)
		for _, t := range g.traits {
			fmt.Fprintf(&b, "- %s: %s\n", t.name, t.desc)
		}
	}

	b.WriteString("\nTEMPORAL/PATTERN AWARENESS:\n")
	b.WriteString("- temporal_resolution: 'low' (days/weeks), 'medium' (hours), 'high' (minutes/seconds)\n")
	b.WriteString("- pattern_window: 'short' (immediate), 'medium' (days), 'long' (months/years)\n")

	if hints.PreferredAccent != "" {
		fmt.Fprintf(&b, "\nThe character will speak with a %s accent; let that inform the summary, not the traits.\n", hints.PreferredAccent)
	}

	b.WriteString("\nReturn ONLY valid JSON with this structure:\n")
	b.WriteString(responseTemplate)
	b.WriteString("\n\nBe specific. Use the backstory details. If uncertain about a trait, use 0.5.")
	return b.String()
}
