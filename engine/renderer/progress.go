package renderer

import "time"

const timingWindow = 30

// rollingAverage keeps a fixed window of frame-time samples.
type rollingAverage struct {
	samples [timingWindow]float64
	next    int
	count   int
}

func (a *rollingAverage) Add(sample float64) {
	a.samples[a.next] = sample
	a.next = (a.next + 1) % timingWindow
	if a.count < timingWindow {
		a.count++
	}
}

func (a *rollingAverage) Average() float64 {
	if a.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < a.count; i++ {
		sum += a.samples[i]
	}
	return sum / float64(a.count)
}

// Statistics is the outward-facing frame statistics snapshot.
type Statistics struct {
	CPUFrameTimeMs      float64
	GPUFrameTimeMs      float64
	TotalElapsedSeconds float64
	FramesSinceReset    uint64
}

// ResetRenderProgress discards the accumulated refinement state: the frame
// counter restarts, the elapsed clock restarts, and the next recorded frame
// wipes the stale radiance from the slot that will next become "previous".
func (r *Renderer) ResetRenderProgress() {
	r.timingsLock.Lock()
	defer r.timingsLock.Unlock()
	r.clearPreviousRenderBuffer = true
	r.frameNumber = 0
	r.progressStart = time.Now()
}

// updateFrameTimings folds a new sample pair into the rolling averages. The
// host sample is always recorded; the device sample only when the timestamp
// pair was actually available.
func (r *Renderer) updateFrameTimings(cpuTimeMs, gpuTimeMs float64) {
	r.timingsLock.Lock()
	defer r.timingsLock.Unlock()
	r.hostTimeAverage.Add(cpuTimeMs)
	if gpuTimeMs >= 0 {
		r.deviceTimeAverage.Add(gpuTimeMs)
	}
}

// Statistics returns a tear-free snapshot. Callable from any goroutine,
// concurrently with in-progress timing updates.
func (r *Renderer) Statistics() Statistics {
	r.timingsLock.RLock()
	defer r.timingsLock.RUnlock()

	var elapsed float64
	if !r.progressStart.IsZero() {
		elapsed = time.Since(r.progressStart).Seconds()
	}
	return Statistics{
		CPUFrameTimeMs:      r.hostTimeAverage.Average(),
		GPUFrameTimeMs:      r.deviceTimeAverage.Average(),
		TotalElapsedSeconds: elapsed,
		FramesSinceReset:    r.frameNumber,
	}
}

// FramesSinceReset reports the accumulated sample count since the last
// progress reset. Never a wall-clock frame index.
func (r *Renderer) FramesSinceReset() uint64 {
	r.timingsLock.RLock()
	defer r.timingsLock.RUnlock()
	return r.frameNumber
}
