package evaluate

import (
	"sync"

	"github.com/heliosrules/helios/services/engine/model"
)

// Pool is the thread-local context pool (spec §4.12, C12). The model it
// wraps is immutable and shared across every concurrent Evaluate call; the
// pool hands out the per-call mutable scratch state (get/put, mirroring the
// stdlib regexp package's own sync.Pool-of-machine-state pattern).
type Pool struct {
	model *model.EngineModel
	pool  sync.Pool
}

// NewPool returns a Pool whose contexts are sized for m.
func NewPool(m *model.EngineModel) *Pool {
	p := &Pool{model: m}
	p.pool.New = func() any { return &Context{} }
	return p
}

// Get acquires a Context sized for the pool's model (spec §4.12 "on first
// use it is sized to the model"). Call Put when done to return it.
func (p *Pool) Get() *Context {
	ctx := p.pool.Get().(*Context)
	ctx.sizeFor(p.model.NumCombinations())
	return ctx
}

// Put returns ctx to the pool. It does not reset ctx — Evaluate resets at
// the start of its own call (state machine step "Reset" follows "Acquire"),
// so a context inspected after Evaluate returns still reflects that call's
// counters until the next Evaluate call that uses it.
func (p *Pool) Put(ctx *Context) {
	p.pool.Put(ctx)
}
