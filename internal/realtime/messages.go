package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EndOfUtterance is the literal text frame that ends an utterance.
const EndOfUtterance = "AUDIO_END"

// Outbound event types.
const (
	EventPersonalityLoaded = "personality_loaded"
	EventTranscript        = "transcript"
	EventResponse          = "response"
	EventAudioEnd          = "audio_end"
	EventNoWakeWord        = "no_wake_word"
	EventError             = "error"
)

// Inbound control message types.
const (
	msgDeviceHello = "device_hello"
	msgClose       = "close"
)

type personalityLoaded struct {
	Type         string `json:"type"`
	AIName       string `json:"ai_name"`
	SleepEnabled bool   `json:"sleep_enabled"`
}

type transcriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseEvent struct {
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Commands []string `json:"commands"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type bareEvent struct {
	Type string `json:"type"`
}

// inboundKind classifies a text frame from the appliance.
type inboundKind int

const (
	inboundEndOfUtterance inboundKind = iota
	inboundDeviceHello
	inboundClose
)

type inbound struct {
	kind     inboundKind
	deviceID string
}

type controlMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// parseText interprets a text frame.
func parseText(data []byte) (inbound, error) {
	text := strings.TrimSpace(string(data))
	if text == EndOfUtterance {
		return inbound{kind: inboundEndOfUtterance}, nil
	}
	if !strings.HasPrefix(text, "{") {
		return inbound{}, fmt.Errorf("unexpected text frame %q", truncate(text, 32))
	}

	var msg controlMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		return inbound{}, fmt.Errorf("malformed control message: %w", err)
	}
	switch msg.Type {
	case msgDeviceHello:
		if strings.TrimSpace(msg.DeviceID) == "" {
			return inbound{}, errors.New("device_hello requires device_id")
		}
		return inbound{kind: inboundDeviceHello, deviceID: strings.TrimSpace(msg.DeviceID)}, nil
	case msgClose:
		return inbound{kind: inboundClose}, nil
	}
	return inbound{}, fmt.Errorf("unknown message type %q", truncate(msg.Type, 32))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
