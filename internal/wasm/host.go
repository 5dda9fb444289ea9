package wasm

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/goja-blocked-at/internal/blockage"
	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module guests use to reach the watchdog.
const HostModuleName = "blocked_at"

// InstantiateHost instantiates the blocked_at host module, exporting
//
//	heartbeat()     calls w.Heartbeat, for guests that never return
//	sleep(ms i32)   blocks the calling goroutine, like a slow host call
func (e *Engine) InstantiateHost(ctx context.Context, w *blockage.Watchdog) (api.Module, error) {
	mod, err := e.HostModule(HostModuleName).
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(context.Context, []uint64) {
			w.Heartbeat()
		}), nil, nil).
		Export("heartbeat").
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(_ context.Context, stack []uint64) {
			if ms := api.DecodeI32(stack[0]); ms > 0 {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		}), []api.ValueType{api.ValueTypeI32}, nil).
		Export("sleep").
		Instantiate(e.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", HostModuleName, err)
	}
	return mod, nil
}
