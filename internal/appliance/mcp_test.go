package appliance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type commandArgs struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

// applianceServer is an in-process MCP server exposing brew tools.
type applianceServer struct {
	mu    sync.Mutex
	calls []string
}

func (a *applianceServer) handler(name string) mcpsdk.ToolHandlerFor[commandArgs, any] {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest, in commandArgs) (*mcpsdk.CallToolResult, any, error) {
		a.mu.Lock()
		a.calls = append(a.calls, name+":"+in.DeviceID+":"+in.Command)
		a.mu.Unlock()
		if name == "descale" {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "water tank empty"}},
			}, nil, nil
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil, nil
	}
}

func connectTest(t *testing.T, opts ...MCPOption) (*MCPDispatcher, *applianceServer) {
	t.Helper()
	ctx := context.Background()

	srv := &applianceServer{}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "coffee-maker", Version: "test"}, nil)
	for _, name := range []string{"start_brew", "stop_brew", "descale"} {
		mcpsdk.AddTool(server, &mcpsdk.Tool{Name: name, Description: "brew control"}, srv.handler(name))
	}

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	d, err := Connect(ctx, clientTransport, opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, srv
}

func TestMCPDispatcher_Dispatch(t *testing.T) {
	t.Parallel()

	d, srv := connectTest(t)
	if got := d.Tools(); strings.Join(got, ",") != "descale,start_brew,stop_brew" {
		t.Errorf("Tools = %v", got)
	}

	if err := d.Dispatch(context.Background(), "kitchen", "start_brew"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.calls) != 1 || srv.calls[0] != "start_brew:kitchen:start_brew" {
		t.Errorf("server calls = %v", srv.calls)
	}
}

func TestMCPDispatcher_ToolMap(t *testing.T) {
	t.Parallel()

	d, srv := connectTest(t, WithToolMap(map[string]string{"clean_cycle": "descale"}))

	err := d.Dispatch(context.Background(), "kitchen", "clean_cycle")
	if err == nil || !strings.Contains(err.Error(), "water tank empty") {
		t.Fatalf("err = %v, want tool error text", err)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.calls) != 1 || srv.calls[0] != "descale:kitchen:clean_cycle" {
		t.Errorf("server calls = %v", srv.calls)
	}
}

func TestMCPDispatcher_UnknownTool(t *testing.T) {
	t.Parallel()

	d, srv := connectTest(t)
	if err := d.Dispatch(context.Background(), "kitchen", "keep_warm"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.calls) != 0 {
		t.Errorf("unknown tool reached the server: %v", srv.calls)
	}
}

func TestMCPDispatcher_Closed(t *testing.T) {
	t.Parallel()

	d, _ := connectTest(t)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Dispatch(context.Background(), "kitchen", "start_brew"); err == nil {
		t.Error("Dispatch after Close succeeded")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestDial_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown transport", Config{Transport: "carrier-pigeon"}},
		{"stdio without command", Config{Transport: TransportStdio}},
		{"http without url", Config{Transport: TransportStreamableHTTP}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Dial(context.Background(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDispatchAll(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var got []string
	d := Func(func(_ context.Context, entityID, command string) error {
		got = append(got, entityID+"/"+command)
		if command == "stop_brew" {
			return boom
		}
		return nil
	})

	failed := DispatchAll(context.Background(), d, "kitchen", []string{"start_brew", "stop_brew", "keep_warm"})
	if len(got) != 3 {
		t.Errorf("dispatched %v, want all three", got)
	}
	if len(failed) != 1 || !errors.Is(failed["stop_brew"], boom) {
		t.Errorf("failed = %v", failed)
	}
	if DispatchAll(context.Background(), Nop{}, "kitchen", []string{"start_brew"}) != nil {
		t.Error("Nop reported failures")
	}
}
