package renderer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRingAdvanceWraps(t *testing.T) {
	for _, depth := range []int{2, 3} {
		t.Run(fmt.Sprintf("depth-%d", depth), func(t *testing.T) {
			ring := NewFrameRing(depth)
			require.Equal(t, depth, ring.Len())

			for tick := 0; tick < 3*depth; tick++ {
				assert.Equal(t, tick%depth, ring.CurrentIndex())
				assert.Equal(t, (tick+depth-1)%depth, ring.PreviousIndex())
				assert.Same(t, ring.Slot(tick%depth), ring.Current())
				ring.Advance()
			}
		})
	}
}

func TestFrameRingPreviousOfFirstSlotIsLast(t *testing.T) {
	ring := NewFrameRing(3)
	assert.Equal(t, 2, ring.PreviousIndex())
	assert.Same(t, ring.Slot(2), ring.Previous())
}

func TestFrameSlotRecordingFromIdleOnly(t *testing.T) {
	slot := &FrameSlot{}
	require.Equal(t, SlotIdle, slot.State())

	require.NoError(t, slot.BeginRecording())
	assert.Equal(t, SlotRecording, slot.State())

	err := slot.BeginRecording()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording")
}

func TestFrameSlotWaitRetireResetsToIdle(t *testing.T) {
	dev := newFakeDevice(2)
	fence, err := dev.CreateFence(true)
	require.NoError(t, err)

	slot := &FrameSlot{Fence: fence}
	require.NoError(t, slot.BeginRecording())
	slot.MarkSubmitted()
	require.Equal(t, SlotSubmitted, slot.State())

	require.NoError(t, slot.WaitRetire(dev))
	assert.Equal(t, SlotIdle, slot.State())
	assert.Equal(t, 1, dev.fenceWaits)
	assert.False(t, fence.(*fakeFence).signaled)

	require.NoError(t, slot.BeginRecording())
}

// A slot whose recording never reached submission has nothing in flight, so
// retiring it must skip the fence entirely and return it to idle.
func TestFrameSlotWaitRetireSkipsFenceWhenNeverSubmitted(t *testing.T) {
	dev := newFakeDevice(2)
	fence, err := dev.CreateFence(false)
	require.NoError(t, err)

	slot := &FrameSlot{Fence: fence}
	require.NoError(t, slot.BeginRecording())

	require.NoError(t, slot.WaitRetire(dev))
	assert.Equal(t, SlotIdle, slot.State())
	assert.Equal(t, 0, dev.fenceWaits)

	require.NoError(t, slot.BeginRecording())
}

func TestSlotStateStrings(t *testing.T) {
	assert.Equal(t, "idle", SlotIdle.String())
	assert.Equal(t, "recording", SlotRecording.String())
	assert.Equal(t, "submitted", SlotSubmitted.String())
	assert.Equal(t, "retired", SlotRetired.String())
}
