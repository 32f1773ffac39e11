package rpcserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rpcgate/rpcgate/internal/domain/policy"
	"github.com/rpcgate/rpcgate/internal/domain/rpc"
)

func echoHandler(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	return json.RawMessage(params), nil
}

func staticHandler(v any) rpc.Handler {
	return func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
		return v, nil
	}
}

type denyAll struct{}

func (denyAll) Evaluate(policy.EvaluationContext) policy.Decision {
	return policy.Decision{Allowed: false, RuleName: "deny-all"}
}

func newTestDispatcher(t *testing.T, reg *rpc.Registry, maxResponse uint32) *dispatcher {
	t.Helper()
	enrichRegistry(reg)
	reg.Freeze()
	return &dispatcher{
		registry:         reg,
		observer:         NoopObserver{},
		maxResponseBytes: maxResponse,
		logger:           discardLogger(),
	}
}

func call(t *testing.T, d *dispatcher, payload string) rpc.Response {
	t.Helper()
	raw := d.handleMessage(context.Background(), []byte(payload), transportHTTP, nil)
	if raw == nil {
		t.Fatal("expected a response")
	}
	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *rpc.Error      `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("invalid response %s: %v", raw, err)
	}
	return rpc.Response{JSONRPC: resp.JSONRPC, ID: resp.ID, Result: resp.Result, Error: resp.Error}
}

func TestDispatchCall(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("echo", echoHandler)
	d := newTestDispatcher(t, reg, megabyte)

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"echo","params":[42]}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.Result.(json.RawMessage)) != "[42]" {
		t.Fatalf("unexpected result: %s", resp.Result)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("unexpected id: %s", resp.ID)
	}
}

func TestDispatchMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t, rpc.NewRegistry(), megabyte)
	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"missing"}`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestDispatchParseError(t *testing.T) {
	d := newTestDispatcher(t, rpc.NewRegistry(), megabyte)
	resp := call(t, d, `{not json`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestDispatchInvalidVersion(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("echo", echoHandler)
	d := newTestDispatcher(t, reg, megabyte)

	resp := call(t, d, `{"jsonrpc":"1.0","id":1,"method":"echo"}`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
}

func TestDispatchNotificationNoResponse(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("echo", echoHandler)
	d := newTestDispatcher(t, reg, megabyte)

	if raw := d.handleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"echo"}`), transportHTTP, nil); raw != nil {
		t.Fatalf("expected no response for notification, got %s", raw)
	}
}

func TestDispatchBatch(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("echo", echoHandler)
	d := newTestDispatcher(t, reg, megabyte)

	raw := d.handleMessage(context.Background(), []byte(
		`[{"jsonrpc":"2.0","id":1,"method":"echo","params":1},
		  {"jsonrpc":"2.0","method":"echo"},
		  {"jsonrpc":"2.0","id":2,"method":"missing"}]`), transportHTTP, nil)

	var responses []rpc.Response
	if err := json.Unmarshal(raw, &responses); err != nil {
		t.Fatalf("invalid batch response %s: %v", raw, err)
	}
	// The notification contributes no entry.
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if responses[0].Error != nil {
		t.Fatalf("unexpected error: %v", responses[0].Error)
	}
	if responses[1].Error == nil || responses[1].Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("expected method not found in batch, got %+v", responses[1].Error)
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	d := newTestDispatcher(t, rpc.NewRegistry(), megabyte)
	resp := call(t, d, `[]`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidRequest {
		t.Fatalf("expected invalid request for empty batch, got %+v", resp.Error)
	}
}

func TestDispatchOversizedResponse(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("big", staticHandler(strings.Repeat("x", 2048)))
	d := newTestDispatcher(t, reg, 256)

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"big"}`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeOversizedResponse {
		t.Fatalf("expected oversized response error, got %+v", resp.Error)
	}
}

func TestDispatchPolicyDeny(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("echo", echoHandler)
	d := newTestDispatcher(t, reg, megabyte)
	d.policy = denyAll{}

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"echo"}`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeCallDenied {
		t.Fatalf("expected call denied, got %+v", resp.Error)
	}
}

func TestDispatchHandlerPanicRecovered(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("boom", func(context.Context, json.RawMessage) (any, *rpc.Error) {
		panic("kaboom")
	})
	d := newTestDispatcher(t, reg, megabyte)

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"boom"}`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeInternalError {
		t.Fatalf("expected internal error, got %+v", resp.Error)
	}
}

func TestDispatchSubscriptionOverHTTP(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.RegisterSubscription("state_subscribe", "state_changed", "state_unsubscribe",
		func(ctx context.Context, params json.RawMessage, sink rpc.Sink) error { return nil })
	d := newTestDispatcher(t, reg, megabyte)

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"state_subscribe"}`)
	if resp.Error == nil || resp.Error.Code != rpc.CodeSubscriptionUnavailable {
		t.Fatalf("expected subscription unavailable over http, got %+v", resp.Error)
	}
}

func TestRPCMethodsSorted(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("foo", echoHandler)
	reg.Register("baz", echoHandler)
	reg.Register("bar", echoHandler)
	d := newTestDispatcher(t, reg, megabyte)

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"rpc_methods"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	var result struct {
		Methods []string `json:"methods"`
	}
	if err := json.Unmarshal(resp.Result.(json.RawMessage), &result); err != nil {
		t.Fatalf("invalid rpc_methods result: %v", err)
	}
	// The snapshot is taken before rpc_methods itself is registered, so
	// the synthetic method never appears in its own listing.
	want := []string{"bar", "baz", "foo"}
	if len(result.Methods) != len(want) {
		t.Fatalf("got %v, want %v", result.Methods, want)
	}
	for i := range want {
		if result.Methods[i] != want[i] {
			t.Fatalf("got %v, want %v", result.Methods, want)
		}
	}
}

func TestRPCMethodsCollisionPanics(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.Register("rpc_methods", echoHandler)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on rpc_methods collision")
		}
	}()
	enrichRegistry(reg)
}
