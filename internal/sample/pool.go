package sample

import (
	"fmt"

	"github.com/databike/replay/internal/queue"
	"github.com/databike/replay/pkg/core"
)

// pool is an arena of pre-allocated BikeState records addressed by slot.
// Slots move between the free ring and their holder by explicit checkout
// and recycle; nothing is allocated after construction.
type pool struct {
	states []core.BikeState
	free   *queue.Ring[int]
}

func newPool(size int) *pool {
	p := &pool{
		states: make([]core.BikeState, size),
		free:   queue.NewRing[int](size),
	}
	for i := range size {
		p.free.Push(i)
	}
	return p
}

// checkout takes a free slot. Running out of slots means the scheduler lost
// track of one, which is a programming error.
func (p *pool) checkout() int {
	slot, ok := p.free.Pop()
	if !ok {
		panic(fmt.Sprintf("sample: state pool exhausted (%d slots)", len(p.states)))
	}
	return slot
}

func (p *pool) recycle(slot int) {
	if !p.free.Push(slot) {
		panic(fmt.Sprintf("sample: slot %d recycled into a full pool", slot))
	}
}

func (p *pool) state(slot int) *core.BikeState {
	return &p.states[slot]
}

func (p *pool) available() int {
	return p.free.Len()
}

func (p *pool) size() int {
	return len(p.states)
}
