package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

var ErrNoWorkers = fmt.Errorf("attempting to create job scheduler with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create job scheduler with a negative channel size")

// queuedJob wraps a job with its outstanding predecessor count. Dependency
// edges are snapshotted at Run time, so the builder may re-declare edges for
// the next tick while this batch is still executing.
type queuedJob struct {
	job        *renderer.Job
	remaining  int
	dependents []*queuedJob
}

// JobScheduler executes update jobs on a fixed worker pool. A job does not
// start until every declared predecessor from its batch has completed;
// independent jobs run in parallel up to the pool capacity. Failures are
// reported on the scheduler's error channel and do not block dependents,
// since retry happens through re-dirtying on a later tick.
type JobScheduler struct {
	numWorkers int
	jobQueue   chan *queuedJob
	errors     chan renderer.JobError

	mutex   sync.Mutex
	wg      sync.WaitGroup
	pending sync.WaitGroup
}

func NewJobScheduler(numWorkers int, channelSize int) (*JobScheduler, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobScheduler{
		numWorkers: numWorkers,
		jobQueue:   make(chan *queuedJob, channelSize),
		errors:     make(chan renderer.JobError, 64),
	}
	js.start()

	return js, nil
}

func (js *JobScheduler) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for queued := range js.jobQueue {
				if err := queued.job.Run(); err != nil {
					js.reportError(renderer.JobError{
						ID:   queued.job.ID(),
						Role: queued.job.Role(),
						Err:  err,
					})
				}
				js.complete(queued)
			}
		}()
	}
}

// Run hands a tick's job batch to the pool and returns without waiting for
// completion. Dependency edges pointing outside the batch are ignored; only
// this tick's declared predecessors gate execution.
func (js *JobScheduler) Run(jobs []*renderer.Job) {
	js.pending.Add(len(jobs))

	batch := make(map[renderer.JobID]*queuedJob, len(jobs))
	queued := make([]*queuedJob, 0, len(jobs))
	for _, job := range jobs {
		q := &queuedJob{job: job}
		batch[job.ID()] = q
		queued = append(queued, q)
	}

	js.mutex.Lock()
	for _, q := range queued {
		for _, depID := range q.job.Dependencies() {
			if dep, ok := batch[depID]; ok {
				dep.dependents = append(dep.dependents, q)
				q.remaining++
			}
		}
	}
	var ready []*queuedJob
	for _, q := range queued {
		if q.remaining == 0 {
			ready = append(ready, q)
		}
	}
	js.mutex.Unlock()

	for _, q := range ready {
		js.submit(q)
	}
}

func (js *JobScheduler) submit(q *queuedJob) {
	select {
	case js.jobQueue <- q:
	default:
		// Queue full: hand off asynchronously rather than stalling the
		// orchestrator tick.
		go func() { js.jobQueue <- q }()
	}
}

func (js *JobScheduler) complete(q *queuedJob) {
	js.mutex.Lock()
	var ready []*queuedJob
	for _, dependent := range q.dependents {
		dependent.remaining--
		if dependent.remaining == 0 {
			ready = append(ready, dependent)
		}
	}
	q.dependents = nil
	js.mutex.Unlock()

	for _, r := range ready {
		js.submit(r)
	}
	js.pending.Done()
}

func (js *JobScheduler) reportError(jobErr renderer.JobError) {
	select {
	case js.errors <- jobErr:
	default:
		core.LogWarn("job error channel full, dropping failure of %s: %s", jobErr.ID, jobErr.Err)
	}
}

// Errors exposes the scheduler's failure channel, drained by the
// orchestrator each tick.
func (js *JobScheduler) Errors() <-chan renderer.JobError {
	return js.errors
}

// Shuts the scheduler down after the queued work drains. Every job handed to
// Run must finish before the queue closes; a dependency chain still releasing
// dependents would otherwise submit into a closed channel.
func (js *JobScheduler) Shutdown() error {
	js.pending.Wait()
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}
