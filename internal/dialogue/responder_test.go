package dialogue_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/soven/internal/dialogue"
	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/pkg/provider/llm"
	llmmock "github.com/MrWong99/soven/pkg/provider/llm/mock"
)

func frank() *personality.Personality {
	traits := personality.DefaultTraits()
	traits.WearinessAccumulationRate = 0.85
	traits.ServiceOrientation = 0.9
	traits.ConfidenceBaseline = 0.2
	return &personality.Personality{
		ID:        "frank",
		Name:      "Frank",
		Narrative: "Frank's mom was a tired waitress who worked doubles; dad was never around,",
		Summary:   "Raised on double shifts, Frank equates care with showing up tired.",
		Traits:    traits,
	}
}

func TestRespond(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Reply: &llm.CompletionResponse{
		Content: "  Sure thing, I'll get the brew cycle started right away.  ",
	}}
	r := dialogue.NewResponder(p)

	turn, err := r.Respond(context.Background(), "Frank, make me a coffee", frank())
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if turn.Reply != "Sure thing, I'll get the brew cycle started right away." {
		t.Errorf("Reply = %q", turn.Reply)
	}
	if !slices.Equal(turn.Commands, []string{dialogue.CommandStartBrew}) {
		t.Errorf("Commands = %v", turn.Commands)
	}
	if turn.Utterance != "Frank, make me a coffee" {
		t.Errorf("Utterance = %q", turn.Utterance)
	}

	if len(p.Calls()) != 1 {
		t.Fatalf("Complete called %d times", len(p.Calls()))
	}
	req := p.Calls()[0].Req
	for _, want := range []string{
		"You are Frank, a coffee maker",
		"Raised on double shifts",
		"You live to look after others.",
		"You doubt yourself.",
		"1-2 sentences",
	} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}
	if got := req.Messages[len(req.Messages)-1]; got.Role != llm.RoleUser || got.Content != "Frank, make me a coffee" {
		t.Errorf("last message = %+v", got)
	}
	if _, ok := p.Calls()[0].Ctx.Deadline(); !ok {
		t.Error("model call has no deadline")
	}
}

func TestRespond_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider llm.Provider
		want     error
	}{
		{"provider error", &llmmock.Provider{Err: errors.New("connection refused")}, fault.ErrGenerationUnavailable},
		{"nil response", &llmmock.Provider{}, fault.ErrGenerationUnavailable},
		{"blank reply", &llmmock.Provider{Reply: &llm.CompletionResponse{Content: "  "}}, fault.ErrGenerationUnavailable},
		{"no provider", nil, fault.ErrGenerationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := dialogue.NewResponder(tt.provider)
			turn, err := r.Respond(context.Background(), "hello", frank())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if turn.Reply != "" || len(turn.Commands) != 0 {
				t.Errorf("failed turn carries output: %+v", turn)
			}
		})
	}
}

func TestRespond_Timeout(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Func: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := dialogue.NewResponder(p, dialogue.WithTimeout(10*time.Millisecond))

	_, err := r.Respond(context.Background(), "hello", frank())
	if !errors.Is(err, fault.ErrGenerationUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout message", err)
	}
}

func TestRespond_InvalidInput(t *testing.T) {
	t.Parallel()

	r := dialogue.NewResponder(&llmmock.Provider{})
	if _, err := r.Respond(context.Background(), "hi", nil); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("nil personality: err = %v", err)
	}
	if _, err := r.Respond(context.Background(), " \t", frank()); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("blank utterance: err = %v", err)
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()

	r := dialogue.NewResponder(nil)
	if got := r.Fallback(0); got != "Sorry, I'm having trouble thinking right now." {
		t.Errorf("Fallback(0) = %q", got)
	}
	if got := r.Fallback(1); got != "My brain's offline. Try again?" {
		t.Errorf("Fallback(1) = %q", got)
	}
	if r.Fallback(7) != r.Fallback(7) || r.Fallback(2) != r.Fallback(0) {
		t.Error("Fallback is not deterministic")
	}

	custom := dialogue.NewResponder(nil, dialogue.WithFallbackReplies([]string{"One moment."}))
	if got := custom.Fallback(-3); got != "One moment." {
		t.Errorf("custom Fallback = %q", got)
	}
}

func TestSetCommandTable(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Reply: &llm.CompletionResponse{Content: "Lights off, goodnight."}}
	r := dialogue.NewResponder(p, dialogue.WithAppliance("smart lamp"))

	turn, err := r.Respond(context.Background(), "goodnight", frank())
	if err != nil {
		t.Fatal(err)
	}
	if len(turn.Commands) != 0 {
		t.Errorf("default table fired: %v", turn.Commands)
	}

	r.SetCommandTable(dialogue.MustCommandTable([]dialogue.Trigger{{Phrase: "lights off", Command: "lights_off"}}))
	turn, err = r.Respond(context.Background(), "goodnight", frank())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(turn.Commands, []string{"lights_off"}) {
		t.Errorf("Commands = %v", turn.Commands)
	}
	if !strings.Contains(p.Calls()[0].Req.SystemPrompt, "a smart lamp with an AI personality") {
		t.Errorf("appliance noun missing: %s", p.Calls()[0].Req.SystemPrompt)
	}
}

func TestDescribeTraits(t *testing.T) {
	t.Parallel()

	if got := dialogue.DescribeTraits(personality.DefaultTraits()); got != "You are even-tempered and balanced." {
		t.Errorf("neutral = %q", got)
	}

	traits := personality.DefaultTraits()
	traits.AnxietyThreshold = 0.7
	traits.NoveltySeeking = 0.05
	got := dialogue.DescribeTraits(traits)
	if got != "You stick to what you know. You worry easily." {
		t.Errorf("DescribeTraits = %q", got)
	}

	for _, name := range personality.TraitNames {
		traits.Set(name, 1)
	}
	if n := strings.Count(dialogue.DescribeTraits(traits), "."); n != 6 {
		t.Errorf("described %d traits, want 6", n)
	}
}
