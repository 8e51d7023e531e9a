package realtime

import "testing"

func TestWakeGate_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policy      WakePolicy
		transcript  string
		ai          string
		wantCommand string
		wantWoke    bool
	}{
		{"name first", WakeName, "Frank, make me a coffee", "Frank", "make me a coffee", true},
		{"greeting", WakeName, "Hey Frank start brewing please", "Frank", "start brewing please", true},
		{"hello greeting", WakeName, "hello frank, what's up", "Frank", "what's up", true},
		{"name last", WakeName, "Can you make coffee, Frank?", "Frank", "Can you make coffee?", true},
		{"name middle", WakeName, "I think, Frank, we need coffee", "Frank", "I think we need coffee", true},
		{"name only", WakeName, "Hey Frank.", "Frank", AckCommand, true},
		{"short remainder", WakeName, "Frank, go", "Frank", AckCommand, true},
		{"fuzzy spelling", WakeName, "Hey Frenk, start brewing", "Frank", "start brewing", true},
		{"multi word name", WakeName, "okay mister coffee brew a pot", "Mister Coffee", "brew a pot", true},
		{"no name", WakeName, "what's the weather like", "Frank", "", false},
		{"similar word", WakeName, "thank you so much", "Frank", "", false},
		{"empty", WakeName, "   ", "Frank", "", false},
		{"always without name", WakeAlways, "start brewing", "Frank", "start brewing", true},
		{"always strips name", WakeAlways, "Frank, stop brewing", "Frank", "stop brewing", true},
		{"always empty", WakeAlways, "", "Frank", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWakeGate(tt.policy)
			cmd, woke := g.Check(tt.transcript, tt.ai)
			if woke != tt.wantWoke || cmd != tt.wantCommand {
				t.Errorf("Check(%q, %q) = (%q, %v), want (%q, %v)", tt.transcript, tt.ai, cmd, woke, tt.wantCommand, tt.wantWoke)
			}
		})
	}
}

func TestParseText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    inbound
		wantErr bool
	}{
		{"end of utterance", "AUDIO_END", inbound{kind: inboundEndOfUtterance}, false},
		{"end of utterance padded", " AUDIO_END\n", inbound{kind: inboundEndOfUtterance}, false},
		{"hello", `{"type":"device_hello","device_id":" kitchen "}`, inbound{kind: inboundDeviceHello, deviceID: "kitchen"}, false},
		{"close", `{"type":"close"}`, inbound{kind: inboundClose}, false},
		{"hello without id", `{"type":"device_hello"}`, inbound{}, true},
		{"unknown type", `{"type":"dance"}`, inbound{}, true},
		{"malformed", `{"type":`, inbound{}, true},
		{"plain text", "audio_end", inbound{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseText([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseText(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfig_WithDefaultsAndValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{ChunkSize: 2048}.WithDefaults()
	if cfg.ChunkSize != 2048 || cfg.SampleRate != 16000 || cfg.WakePolicy != WakeName {
		t.Errorf("WithDefaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bad := DefaultConfig()
	bad.ChunkSize = 1023
	bad.WakePolicy = "sometimes"
	bad.IdleTimeout = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	if StateStreamingOut.String() != "STREAMING_OUT" || State(99).String() != "UNKNOWN" {
		t.Error("unexpected state names")
	}
	if !StateResponding.Busy() || StateListening.Busy() {
		t.Error("Busy misreports")
	}
}
