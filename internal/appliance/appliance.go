// Package appliance forwards command tokens produced by dialogue turns to the
// physical appliance.
//
// A [Dispatcher] receives one token at a time together with the entity id of
// the session that produced it. Dispatch failures are reported to the caller
// but never abort a turn.
package appliance

import (
	"context"
	"fmt"
)

// Transport selects the connection mechanism for an MCP appliance server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// Dispatcher delivers command tokens to an appliance.
//
// Implementations must be safe for concurrent use.
type Dispatcher interface {
	// Dispatch sends command on behalf of the appliance bound to entityID.
	Dispatch(ctx context.Context, entityID, command string) error
}

// Nop discards every command.
type Nop struct{}

var _ Dispatcher = Nop{}

// Dispatch implements [Dispatcher]. It always succeeds.
func (Nop) Dispatch(context.Context, string, string) error { return nil }

// Func adapts an ordinary function to a [Dispatcher].
type Func func(ctx context.Context, entityID, command string) error

var _ Dispatcher = Func(nil)

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, entityID, command string) error {
	if f == nil {
		return fmt.Errorf("appliance: nil dispatcher func")
	}
	return f(ctx, entityID, command)
}

// DispatchAll sends commands in order and returns one error per failed
// command, keyed by token. A nil map means every command was delivered.
func DispatchAll(ctx context.Context, d Dispatcher, entityID string, commands []string) map[string]error {
	var failed map[string]error
	for _, c := range commands {
		if err := d.Dispatch(ctx, entityID, c); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[c] = err
		}
	}
	return failed
}
