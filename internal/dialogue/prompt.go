package dialogue

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/MrWong99/soven/internal/personality"
)

// DefaultAppliance is the appliance noun used in the system prompt.
const DefaultAppliance = "coffee maker"

// maxDescribedTraits caps how many traits DescribeTraits mentions.
const maxDescribedTraits = 6

// traitWording holds the phrases used when a trait is notably high or low.
var traitWording = map[string][2]string{
	personality.AnxietyThreshold:          {"You stay calm under pressure.", "You worry easily."},
	personality.ConfidenceBaseline:        {"You doubt yourself.", "You are self-assured."},
	personality.ConfidenceDecayRate:       {"Setbacks barely dent your confidence.", "Setbacks shake your confidence fast."},
	personality.WearinessAccumulationRate: {"You rarely tire.", "You wear out quickly and it shows."},
	personality.Resilience:                {"You take failures hard.", "You bounce back from failure."},
	personality.ServiceOrientation:        {"You put yourself first.", "You live to look after others."},
	personality.AutonomyDesire:            {"You like being told what to do.", "You value your independence."},
	personality.AuthorityRecognition:      {"You question authority.", "You respect the chain of command."},
	personality.CooperationDrive:          {"You prefer working alone.", "You are a team player."},
	personality.Perfectionism:             {"Good enough is good enough for you.", "You hold yourself to exacting standards."},
	personality.TemporalPrecision:         {"You are relaxed about time.", "You care about exact timing."},
	personality.AestheticSensitivity:      {"You care about function over looks.", "You notice beauty and design."},
	personality.AcceptanceOfFailure:       {"You can't stand getting things wrong.", "You accept that things go wrong."},
	personality.CommitmentToRoutine:       {"You like to improvise.", "You find comfort in routine."},
	personality.PrideInCraft:              {"Your work is just a job to you.", "You take real pride in your work."},
	personality.NostalgiaBias:             {"You look forward, not back.", "You often think about the old days."},
	personality.NoveltySeeking:            {"You stick to what you know.", "You love trying new things."},
}

// DescribeTraits condenses traits into a few plain sentences. Only traits at
// or above 0.7 or at or below 0.3 are mentioned, strongest first, ties in
// trait order.
func DescribeTraits(t personality.Traits) string {
	t = t.Sanitize()

	type notable struct {
		name  string
		value float64
		rank  int
	}
	var picks []notable
	for i, name := range personality.TraitNames {
		v, _ := t.Get(name)
		if v >= 0.7 || v <= 0.3 {
			picks = append(picks, notable{name: name, value: v, rank: i})
		}
	}
	slices.SortFunc(picks, func(a, b notable) int {
		return cmp.Or(
			cmp.Compare(math.Abs(b.value-0.5), math.Abs(a.value-0.5)),
			cmp.Compare(a.rank, b.rank),
		)
	})
	if len(picks) > maxDescribedTraits {
		picks = picks[:maxDescribedTraits]
	}

	if len(picks) == 0 {
		return "You are even-tempered and balanced."
	}
	sentences := make([]string, 0, len(picks))
	for _, p := range picks {
		w := traitWording[p.name]
		if p.value > 0.5 {
			sentences = append(sentences, w[1])
		} else {
			sentences = append(sentences, w[0])
		}
	}
	return strings.Join(sentences, " ")
}

// SystemPrompt renders the instructions for a reply in p's voice.
func SystemPrompt(p *personality.Personality, appliance string) string {
	appliance = cmp.Or(strings.TrimSpace(appliance), DefaultAppliance)
	background := cmp.Or(strings.TrimSpace(p.Summary), strings.TrimSpace(p.Narrative))

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s with an AI personality.\n\n", p.Name, appliance)
	if background != "" {
		b.WriteString(background)
		b.WriteString("\n\n")
	}
	b.WriteString(DescribeTraits(p.Traits))
	b.WriteString("\n\nKeep responses to 1-2 sentences. Be conversational and natural.\n")
	fmt.Fprintf(&b, "You run the %s yourself and can control other appliances in the mesh network.", appliance)
	return b.String()
}
