package renderer

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

// SlotState tracks where a frame slot is in its lifecycle. A slot's resources
// may only be mutated after its retirement fence (N submissions ago) has been
// observed signaled; WaitRetire enforces that precondition on entry into
// recording.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotRecording
	SlotSubmitted
	SlotRetired
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotRetired:
		return "retired"
	}
	return "unknown"
}

// FrameSlot is one of N round-robin-reused sets of per-frame GPU resources.
// The render target is read by the *next* slot's trace dispatch for temporal
// accumulation, so slots are destroyed and recreated together.
type FrameSlot struct {
	RenderTarget  device.Image
	CommandBuffer device.CommandBuffer
	Fence         device.Fence
	DisplaySet    device.DescriptorSet
	RenderSet     device.DescriptorSet

	state SlotState
}

func (s *FrameSlot) State() SlotState { return s.state }

// WaitRetire blocks on the slot's completion fence from its previous use and
// resets it, moving the slot back to idle. The wait is unbounded; it relies
// on the device's forward-progress guarantee. A slot that never reached
// submission has no pending GPU work and an unsignaled fence, so waiting on
// it would block forever; such slots go straight back to idle.
func (s *FrameSlot) WaitRetire(dev device.Device) error {
	if s.state != SlotSubmitted {
		s.state = SlotIdle
		return nil
	}
	if err := dev.WaitForFence(s.Fence); err != nil {
		return fmt.Errorf("frame slot fence wait failed: %w", err)
	}
	s.state = SlotRetired
	if err := dev.ResetFence(s.Fence); err != nil {
		return fmt.Errorf("frame slot fence reset failed: %w", err)
	}
	s.state = SlotIdle
	return nil
}

func (s *FrameSlot) BeginRecording() error {
	if s.state != SlotIdle {
		return fmt.Errorf("frame slot entered recording in the %s state", s.state)
	}
	s.state = SlotRecording
	return nil
}

func (s *FrameSlot) MarkSubmitted() {
	s.state = SlotSubmitted
}

// FrameRing cycles through N frame slots, one per tick. The index advances by
// exactly one slot per tick regardless of whether rendering or presentation
// occurred, keeping the fence-wait schedule deterministic.
type FrameRing struct {
	slots []*FrameSlot
	index int
}

func NewFrameRing(numConcurrentFrames int) *FrameRing {
	slots := make([]*FrameSlot, numConcurrentFrames)
	for i := range slots {
		slots[i] = &FrameSlot{state: SlotIdle}
	}
	return &FrameRing{slots: slots}
}

func (r *FrameRing) Len() int {
	return len(r.slots)
}

func (r *FrameRing) Slots() []*FrameSlot {
	return r.slots
}

func (r *FrameRing) Slot(index int) *FrameSlot {
	return r.slots[index]
}

func (r *FrameRing) CurrentIndex() int {
	return r.index
}

func (r *FrameRing) PreviousIndex() int {
	if r.index > 0 {
		return r.index - 1
	}
	return len(r.slots) - 1
}

func (r *FrameRing) Current() *FrameSlot {
	return r.slots[r.index]
}

func (r *FrameRing) Previous() *FrameSlot {
	return r.slots[r.PreviousIndex()]
}

func (r *FrameRing) Advance() {
	r.index = (r.index + 1) % len(r.slots)
}
