package wasmruntime

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// fuelFactory hands out one fuelListener per guest function, all sharing a
// single counter. wazero has no native fuel meter; counting every
// host/guest function-call boundary crossing is the closest faithful
// mapping of "abstract unit of guest progress" onto its public surface.
type fuelFactory struct {
	limit  uint64
	spent  uint64
	cancel context.CancelFunc
}

func newFuelFactory(limit uint64, cancel context.CancelFunc) *fuelFactory {
	return &fuelFactory{limit: limit, cancel: cancel}
}

func (f *fuelFactory) NewListener(api.FunctionDefinition) experimental.FunctionListener {
	return &fuelListener{factory: f}
}

// Spent reports the number of function-call boundary crossings counted so
// far, for surfacing in a resource-exhausted error.
func (f *fuelFactory) Spent() uint64 {
	return atomic.LoadUint64(&f.spent)
}

type fuelListener struct {
	factory *fuelFactory
}

func (l *fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) context.Context {
	if atomic.AddUint64(&l.factory.spent, 1) > l.factory.limit {
		l.factory.cancel()
	}
	return ctx
}

func (l *fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}
