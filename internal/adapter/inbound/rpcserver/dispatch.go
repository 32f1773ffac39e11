package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rpcgate/rpcgate/internal/domain/policy"
	"github.com/rpcgate/rpcgate/internal/domain/rpc"
)

// Transport label values used for call observation and policy evaluation.
const (
	transportHTTP = "http"
	transportWS   = "ws"
)

// maxBatchSize bounds the number of calls accepted in one batch request.
const maxBatchSize = 128

// PolicyChecker decides whether a method call is permitted.
type PolicyChecker interface {
	Evaluate(policy.EvaluationContext) policy.Decision
}

// subscriber is the transport-side surface a dispatcher needs to honor
// subscribe/unsubscribe calls. Only the WebSocket session implements it;
// plain HTTP passes nil.
type subscriber interface {
	// startSubscription runs the handler and returns the minted
	// subscription ID.
	startSubscription(ctx context.Context, m rpc.Method, params json.RawMessage) (string, *rpc.Error)
	// cancelSubscription cancels by ID, reporting whether it existed.
	cancelSubscription(id string) bool
}

// dispatcher decodes and executes JSON-RPC payloads. It is shared by the
// HTTP and WebSocket transports; the registry is frozen before the first
// dispatch, so reads need no locking.
type dispatcher struct {
	registry         *rpc.Registry
	policy           PolicyChecker
	observer         Observer
	maxResponseBytes uint32
	logger           *slog.Logger
}

// handleMessage processes one wire message (single request or batch) and
// returns the encoded response, or nil when no response is due
// (notifications only).
func (d *dispatcher) handleMessage(ctx context.Context, raw []byte, transport string, sub subscriber) []byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return d.handleBatch(ctx, trimmed, transport, sub)
	}

	var req rpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return d.marshalResponse(rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeParseError, "parse error")))
	}

	resp := d.dispatch(ctx, &req, transport, sub)
	if resp == nil {
		return nil
	}
	return d.marshalResponse(*resp)
}

// handleBatch processes a JSON-RPC batch. Responses keep request order;
// notifications contribute no response entry.
func (d *dispatcher) handleBatch(ctx context.Context, raw []byte, transport string, sub subscriber) []byte {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		return d.marshalResponse(rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeParseError, "parse error")))
	}
	if len(batch) == 0 {
		return d.marshalResponse(rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeInvalidRequest, "empty batch")))
	}
	if len(batch) > maxBatchSize {
		return d.marshalResponse(rpc.NewErrorResponse(nil,
			rpc.Errorf(rpc.CodeInvalidRequest, "batch too large: %d calls (max %d)", len(batch), maxBatchSize)))
	}

	responses := make([]json.RawMessage, 0, len(batch))
	for _, item := range batch {
		var req rpc.Request
		if err := json.Unmarshal(item, &req); err != nil {
			responses = append(responses,
				d.marshalResponse(rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeInvalidRequest, "invalid request"))))
			continue
		}
		if resp := d.dispatch(ctx, &req, transport, sub); resp != nil {
			responses = append(responses, d.marshalResponse(*resp))
		}
	}

	if len(responses) == 0 {
		return nil
	}
	buf, err := json.Marshal(responses)
	if err != nil {
		d.logger.Error("failed to encode batch response", "error", err)
		return d.marshalResponse(rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeInternalError, "internal error")))
	}
	return buf
}

// dispatch executes one decoded request. Returns nil for notifications.
func (d *dispatcher) dispatch(ctx context.Context, req *rpc.Request, transport string, sub subscriber) *rpc.Response {
	start := time.Now()
	resp := d.dispatchInner(ctx, req, transport, sub)
	if req.Method != "" {
		success := resp == nil || resp.Error == nil
		d.observer.CallCompleted(req.Method, transport, success, time.Since(start))
	}
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (d *dispatcher) dispatchInner(ctx context.Context, req *rpc.Request, transport string, sub subscriber) *rpc.Response {
	if req.JSONRPC != rpc.Version || req.Method == "" {
		resp := rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeInvalidRequest, "invalid request"))
		return &resp
	}

	m, ok := d.registry.Lookup(req.Method)
	if !ok {
		resp := rpc.NewErrorResponse(req.ID, rpc.ErrMethodNotFound())
		return &resp
	}

	if d.policy != nil {
		decision := d.policy.Evaluate(policy.EvaluationContext{
			Method:    req.Method,
			Transport: transport,
			Origin:    OriginFromContext(ctx),
		})
		if !decision.Allowed {
			LoggerFromContext(ctx).Warn("call denied by policy",
				"method", req.Method, "rule", decision.RuleName)
			resp := rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeCallDenied, "method call denied by policy"))
			return &resp
		}
	}

	var resp rpc.Response
	switch m.Kind {
	case rpc.KindCall:
		result, rpcErr := d.safeCall(ctx, m, req.Params)
		if rpcErr != nil {
			resp = rpc.NewErrorResponse(req.ID, rpcErr)
		} else {
			resp = rpc.NewResultResponse(req.ID, result)
		}

	case rpc.KindSubscribe:
		if sub == nil {
			resp = rpc.NewErrorResponse(req.ID,
				rpc.NewError(rpc.CodeSubscriptionUnavailable, "subscriptions require a WebSocket connection"))
			break
		}
		id, rpcErr := sub.startSubscription(ctx, m, req.Params)
		if rpcErr != nil {
			resp = rpc.NewErrorResponse(req.ID, rpcErr)
		} else {
			resp = rpc.NewResultResponse(req.ID, id)
		}

	case rpc.KindUnsubscribe:
		if sub == nil {
			resp = rpc.NewErrorResponse(req.ID,
				rpc.NewError(rpc.CodeSubscriptionUnavailable, "subscriptions require a WebSocket connection"))
			break
		}
		subID, ok := decodeSubscriptionID(req.Params)
		if !ok {
			resp = rpc.NewErrorResponse(req.ID, rpc.ErrInvalidParams())
		} else {
			resp = rpc.NewResultResponse(req.ID, sub.cancelSubscription(subID))
		}

	default:
		resp = rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeInternalError, "internal error"))
	}
	return &resp
}

// safeCall invokes a handler, converting a panic into an internal error so a
// misbehaving method cannot take the server down.
func (d *dispatcher) safeCall(ctx context.Context, m rpc.Method, params json.RawMessage) (result any, rpcErr *rpc.Error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("method handler panicked", "method", m.Name, "panic", r)
			result = nil
			rpcErr = rpc.NewError(rpc.CodeInternalError, "internal error")
		}
	}()
	return m.Call(ctx, params)
}

// decodeSubscriptionID extracts the subscription ID from unsubscribe params:
// either a bare string or a one-element array.
func decodeSubscriptionID(params json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(params, &id); err == nil {
		return id, true
	}
	var arr []string
	if err := json.Unmarshal(params, &arr); err == nil && len(arr) == 1 {
		return arr[0], true
	}
	return "", false
}

// marshalResponse encodes a response, replacing results that exceed the
// outbound payload ceiling with an oversized-response error.
func (d *dispatcher) marshalResponse(resp rpc.Response) []byte {
	buf, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("failed to encode response", "error", err)
		fallback := rpc.NewErrorResponse(resp.ID, rpc.NewError(rpc.CodeInternalError, "internal error"))
		buf, _ = json.Marshal(fallback)
		return buf
	}
	if uint64(len(buf)) > uint64(d.maxResponseBytes) {
		oversized := rpc.NewErrorResponse(resp.ID,
			rpc.Errorf(rpc.CodeOversizedResponse, "response exceeds limit of %d bytes", d.maxResponseBytes))
		buf, _ = json.Marshal(oversized)
	}
	return buf
}
