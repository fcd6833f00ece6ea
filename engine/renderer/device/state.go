package device

import "fmt"

// ImageState is the explicit access/layout state of a GPU image. Every image
// handled by the frame executor is in exactly one state at any point in the
// recorded command stream; moving between states requires the barrier
// returned by Transition.
type ImageState int

const (
	ImageStateUndefined ImageState = iota
	ImageStateCopySource
	ImageStateCopyDest
	ImageStateShaderRead
	ImageStateShaderReadWrite
	ImageStatePresentSource
)

func (s ImageState) String() string {
	switch s {
	case ImageStateUndefined:
		return "undefined"
	case ImageStateCopySource:
		return "copy-source"
	case ImageStateCopyDest:
		return "copy-dest"
	case ImageStateShaderRead:
		return "shader-read"
	case ImageStateShaderReadWrite:
		return "shader-read-write"
	case ImageStatePresentSource:
		return "present-source"
	}
	return "unknown"
}

type AccessFlags uint32

const (
	AccessNone         AccessFlags = 0
	AccessTransferRead AccessFlags = 1 << iota
	AccessTransferWrite
	AccessShaderRead
	AccessShaderWrite
	AccessMemoryRead
)

type StageFlags uint32

const (
	StageTopOfPipe StageFlags = 1 << iota
	StageTransfer
	StageShader
	StageBottomOfPipe
)

// ImageTransition requests that an image move from one state to another
// at a given point in the command stream.
type ImageTransition struct {
	Image Image
	From  ImageState
	To    ImageState
}

// Barrier is the synchronization description realizing a state transition.
// Backends translate it into their native pipeline barrier.
type Barrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
	SrcStage  StageFlags
	DstStage  StageFlags
	From      ImageState
	To        ImageState
}

func stateAccess(s ImageState) (AccessFlags, StageFlags) {
	switch s {
	case ImageStateCopySource:
		return AccessTransferRead, StageTransfer
	case ImageStateCopyDest:
		return AccessTransferWrite, StageTransfer
	case ImageStateShaderRead:
		return AccessShaderRead, StageShader
	case ImageStateShaderReadWrite:
		return AccessShaderRead | AccessShaderWrite, StageShader
	case ImageStatePresentSource:
		return AccessMemoryRead, StageBottomOfPipe
	}
	return AccessNone, StageTopOfPipe
}

// Transition computes the barrier moving an image between two states.
// A transition into the undefined state, or between identical states,
// is disallowed.
func Transition(from, to ImageState) (Barrier, error) {
	if to == ImageStateUndefined {
		return Barrier{}, fmt.Errorf("cannot transition image into the %s state", to)
	}
	if from == to {
		return Barrier{}, fmt.Errorf("image is already in the %s state", to)
	}

	srcAccess, srcStage := stateAccess(from)
	dstAccess, dstStage := stateAccess(to)
	return Barrier{
		SrcAccess: srcAccess,
		DstAccess: dstAccess,
		SrcStage:  srcStage,
		DstStage:  dstStage,
		From:      from,
		To:        to,
	}, nil
}
