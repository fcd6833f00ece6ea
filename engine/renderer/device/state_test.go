package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionComputesAccessAndStages(t *testing.T) {
	tests := []struct {
		name      string
		from, to  ImageState
		srcAccess AccessFlags
		dstAccess AccessFlags
		srcStage  StageFlags
		dstStage  StageFlags
	}{
		{
			name: "first use",
			from: ImageStateUndefined, to: ImageStateShaderReadWrite,
			srcAccess: AccessNone, dstAccess: AccessShaderRead | AccessShaderWrite,
			srcStage: StageTopOfPipe, dstStage: StageShader,
		},
		{
			name: "clear target",
			from: ImageStateUndefined, to: ImageStateCopyDest,
			srcAccess: AccessNone, dstAccess: AccessTransferWrite,
			srcStage: StageTopOfPipe, dstStage: StageTransfer,
		},
		{
			name: "cleared target back to tracing",
			from: ImageStateCopyDest, to: ImageStateShaderReadWrite,
			srcAccess: AccessTransferWrite, dstAccess: AccessShaderRead | AccessShaderWrite,
			srcStage: StageTransfer, dstStage: StageShader,
		},
		{
			name: "traced target to display sampling",
			from: ImageStateShaderReadWrite, to: ImageStateShaderRead,
			srcAccess: AccessShaderRead | AccessShaderWrite, dstAccess: AccessShaderRead,
			srcStage: StageShader, dstStage: StageShader,
		},
		{
			name: "sampled back to tracing",
			from: ImageStateShaderRead, to: ImageStateShaderReadWrite,
			srcAccess: AccessShaderRead, dstAccess: AccessShaderRead | AccessShaderWrite,
			srcStage: StageShader, dstStage: StageShader,
		},
		{
			name: "readback source",
			from: ImageStateShaderReadWrite, to: ImageStateCopySource,
			srcAccess: AccessShaderRead | AccessShaderWrite, dstAccess: AccessTransferRead,
			srcStage: StageShader, dstStage: StageTransfer,
		},
		{
			name: "presentable readback",
			from: ImageStatePresentSource, to: ImageStateCopySource,
			srcAccess: AccessMemoryRead, dstAccess: AccessTransferRead,
			srcStage: StageBottomOfPipe, dstStage: StageTransfer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			barrier, err := Transition(tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.srcAccess, barrier.SrcAccess)
			assert.Equal(t, tt.dstAccess, barrier.DstAccess)
			assert.Equal(t, tt.srcStage, barrier.SrcStage)
			assert.Equal(t, tt.dstStage, barrier.DstStage)
			assert.Equal(t, tt.from, barrier.From)
			assert.Equal(t, tt.to, barrier.To)
		})
	}
}

func TestTransitionRejectsInvalidRequests(t *testing.T) {
	_, err := Transition(ImageStateShaderRead, ImageStateUndefined)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined")

	_, err = Transition(ImageStateShaderRead, ImageStateShaderRead)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already")
}

func TestImageStateStrings(t *testing.T) {
	tests := map[ImageState]string{
		ImageStateUndefined:       "undefined",
		ImageStateCopySource:      "copy-source",
		ImageStateCopyDest:        "copy-dest",
		ImageStateShaderRead:      "shader-read",
		ImageStateShaderReadWrite: "shader-read-write",
		ImageStatePresentSource:   "present-source",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}

func TestExtentIsZero(t *testing.T) {
	assert.True(t, Extent{}.IsZero())
	assert.True(t, Extent{Width: 100}.IsZero())
	assert.True(t, Extent{Height: 100}.IsZero())
	assert.False(t, Extent{Width: 1, Height: 1}.IsZero())
}
