// Package fetchbridge registers the three host imports a guest toolbox uses
// to perform HTTP requests: fetch_submit, fetch_response_len, and
// fetch_response_read. The contract is synchronous from the guest's point
// of view; the host blocks the calling goroutine on the real HTTP request.
//
// The host module is registered once on the shared engine (see
// wasmengine), so per-invocation state cannot live on the closures
// themselves; instead it rides along on the context each call carries,
// which wazero threads through to every host function it invokes on the
// guest's behalf.
package fetchbridge

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/gartnera/wasm-sandbox/sandbox/fetch"
)

// Status words returned by fetch_submit.
const (
	StatusOK                 = 0
	StatusPolicyError        = 1
	StatusTransportError     = 2
	StatusMalformedRequest   = 3
	StatusNetworkingDisabled = 4
)

// ModuleName is the stable host module namespace the three fetch imports
// are registered under; the guest toolbox links against this name.
const ModuleName = "host"

// wireRequest/wireResponse mirror fetch.Request/fetch.Response with JSON
// tags matching the schema the guest and the curl interceptor both target.
type wireRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

type wireResponse struct {
	Status  uint16            `json:"status"`
	OK      bool              `json:"ok"`
	Body    []byte            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type ctxKey struct{}

// callState is the per-invocation bridge state: at most one pending
// response at a time, cleared once fully read. One is allocated per call to
// Run and discarded with it; it never outlives the invocation that made it.
type callState struct {
	client  *fetch.Client // nil means networking is disabled
	pending []byte
}

// WithClient attaches a per-invocation callState to ctx carrying client,
// which every host import registered by Register will read back out. A nil
// client means the guest's fetch bridge reports networking disabled for
// every call.
func WithClient(ctx context.Context, client *fetch.Client) context.Context {
	return context.WithValue(ctx, ctxKey{}, &callState{client: client})
}

func stateFrom(ctx context.Context) *callState {
	cs, _ := ctx.Value(ctxKey{}).(*callState)
	return cs
}

// Register attaches the fetch bridge host functions to builder. Call this
// once against the shared engine; per-call state is supplied later by
// wrapping the invocation's context with WithClient.
func Register(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(fetchSubmit).
		Export("fetch_submit")
	builder.NewFunctionBuilder().
		WithFunc(fetchResponseLen).
		Export("fetch_response_len")
	builder.NewFunctionBuilder().
		WithFunc(fetchResponseRead).
		Export("fetch_response_read")
}

func fetchSubmit(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint32 {
	cs := stateFrom(ctx)
	if cs == nil || cs.client == nil {
		return StatusNetworkingDisabled
	}

	raw, ok := mod.Memory().Read(reqPtr, reqLen)
	if !ok {
		panic("fetchbridge: fetch_submit: out of bounds request read")
	}

	var wr wireRequest
	if err := json.Unmarshal(raw, &wr); err != nil {
		return StatusMalformedRequest
	}

	resp, err := cs.client.Do(ctx, fetch.Request{
		URL:     wr.URL,
		Method:  wr.Method,
		Headers: wr.Headers,
		Body:    wr.Body,
	})
	if err != nil {
		switch err.(type) {
		case *fetch.PolicyError:
			return StatusPolicyError
		default:
			return StatusTransportError
		}
	}

	encoded, err := json.Marshal(wireResponse{
		Status:  resp.Status,
		OK:      resp.OK,
		Body:    resp.Body,
		Headers: resp.Headers,
	})
	if err != nil {
		return StatusTransportError
	}

	cs.pending = encoded
	return StatusOK
}

func fetchResponseLen(ctx context.Context, _ api.Module) uint32 {
	cs := stateFrom(ctx)
	if cs == nil {
		return 0
	}
	return uint32(len(cs.pending))
}

func fetchResponseRead(ctx context.Context, mod api.Module, dstPtr, maxLen uint32) uint32 {
	cs := stateFrom(ctx)
	if cs == nil || len(cs.pending) == 0 {
		return 0
	}
	n := uint32(len(cs.pending))
	if n > maxLen {
		n = maxLen
	}
	if !mod.Memory().Write(dstPtr, cs.pending[:n]) {
		panic("fetchbridge: fetch_response_read: out of bounds response write")
	}
	if n == uint32(len(cs.pending)) {
		cs.pending = nil
	} else {
		cs.pending = cs.pending[n:]
	}
	return n
}
