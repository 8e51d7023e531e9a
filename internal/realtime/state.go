package realtime

// State is the phase of an appliance session.
//
// A session moves through
//
//	Connecting → ProfileLoading → Listening → Transcribing → Responding →
//	Synthesizing → StreamingOut → Listening
//
// and may enter Closed from any state. Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateProfileLoading
	StateListening
	StateTranscribing
	StateResponding
	StateSynthesizing
	StateStreamingOut
	StateClosed
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateProfileLoading:
		return "PROFILE_LOADING"
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateResponding:
		return "RESPONDING"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StateStreamingOut:
		return "STREAMING_OUT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether a turn is in flight.
func (s State) Busy() bool {
	switch s {
	case StateTranscribing, StateResponding, StateSynthesizing, StateStreamingOut:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
