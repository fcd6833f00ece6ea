package renderer

import "sync/atomic"

// DirtyFlag classifies what kind of scene data changed since the last
// consumption by the job graph builder.
type DirtyFlag uint32

const (
	NoneDirty      DirtyFlag = 0
	TransformDirty DirtyFlag = 1 << 0
	GeometryDirty  DirtyFlag = 1 << 1
	MaterialDirty  DirtyFlag = 1 << 2
	TextureDirty   DirtyFlag = 1 << 3
	LightDirty     DirtyFlag = 1 << 4
	CameraDirty    DirtyFlag = 1 << 5

	AllDirty = TransformDirty | GeometryDirty | MaterialDirty | TextureDirty | LightDirty | CameraDirty
)

func (f DirtyFlag) Has(flag DirtyFlag) bool {
	return f&flag != 0
}

// DirtyTracker accumulates change notifications from arbitrary goroutines.
// Marking is lock-free so notification producers never block; consumption
// atomically hands the accumulated set to the single orchestrator tick.
type DirtyTracker struct {
	bits atomic.Uint32
}

func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{}
}

// MarkDirty ORs the given categories into the accumulated set.
// Safe to call concurrently with other marks and with ConsumeAndClear.
func (t *DirtyTracker) MarkDirty(flags DirtyFlag) {
	for {
		old := t.bits.Load()
		if old&uint32(flags) == uint32(flags) {
			return
		}
		if t.bits.CompareAndSwap(old, old|uint32(flags)) {
			return
		}
	}
}

// ConsumeAndClear returns the accumulated set and resets it to empty in one
// atomic step. A mark racing with the clear lands in the next consumption,
// never lost.
func (t *DirtyTracker) ConsumeAndClear() DirtyFlag {
	return DirtyFlag(t.bits.Swap(0))
}

// Peek returns the accumulated set without clearing it.
func (t *DirtyTracker) Peek() DirtyFlag {
	return DirtyFlag(t.bits.Load())
}
