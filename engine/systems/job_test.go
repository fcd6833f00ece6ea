package systems

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer"
)

func TestNewJobSchedulerValidatesArguments(t *testing.T) {
	_, err := NewJobScheduler(0, 16)
	assert.ErrorIs(t, err, ErrNoWorkers)

	_, err = NewJobScheduler(4, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)

	js, err := NewJobScheduler(4, 16)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
}

func TestSchedulerHonorsDependencyOrder(t *testing.T) {
	js, err := NewJobScheduler(4, 16)
	require.NoError(t, err)
	defer js.Shutdown()

	var mutex sync.Mutex
	var order []renderer.JobID
	var wg sync.WaitGroup
	record := func(id renderer.JobID) func() error {
		return func() error {
			defer wg.Done()
			mutex.Lock()
			order = append(order, id)
			mutex.Unlock()
			return nil
		}
	}

	a := renderer.NewJob("a", renderer.JobRoleBuildGeometry, record("a"))
	b := renderer.NewJob("b", renderer.JobRoleBuildGeometry, record("b"))
	c := renderer.NewJob("c", renderer.JobRoleBuildTLAS, record("c"))
	c.AddDependency(a)
	c.AddDependency(b)
	d := renderer.NewJob("d", renderer.JobRoleUpdateInstances, record("d"))
	d.AddDependency(c)

	wg.Add(4)
	js.Run([]*renderer.Job{a, b, c, d})
	wg.Wait()

	position := make(map[renderer.JobID]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	assert.Less(t, position["a"], position["c"])
	assert.Less(t, position["b"], position["c"])
	assert.Less(t, position["c"], position["d"])
}

// Independent jobs must run concurrently: each of the pair blocks until the
// other has started, which only resolves with true parallelism.
func TestSchedulerRunsIndependentJobsInParallel(t *testing.T) {
	js, err := NewJobScheduler(2, 16)
	require.NoError(t, err)
	defer js.Shutdown()

	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	first := renderer.NewJob("first", renderer.JobRoleBuildGeometry, func() error {
		defer wg.Done()
		close(firstStarted)
		<-secondStarted
		return nil
	})
	second := renderer.NewJob("second", renderer.JobRoleBuildGeometry, func() error {
		defer wg.Done()
		close(secondStarted)
		<-firstStarted
		return nil
	})

	js.Run([]*renderer.Job{first, second})
	wg.Wait()
}

func TestSchedulerReportsFailuresWithoutBlockingDependents(t *testing.T) {
	js, err := NewJobScheduler(2, 16)
	require.NoError(t, err)
	defer js.Shutdown()

	var wg sync.WaitGroup
	wg.Add(2)
	boom := errors.New("device lost")

	failing := renderer.NewJob("failing", renderer.JobRoleBuildGeometry, func() error {
		defer wg.Done()
		return boom
	})
	dependentRan := false
	dependent := renderer.NewJob("dependent", renderer.JobRoleBuildTLAS, func() error {
		defer wg.Done()
		dependentRan = true
		return nil
	})
	dependent.AddDependency(failing)

	js.Run([]*renderer.Job{failing, dependent})
	wg.Wait()

	assert.True(t, dependentRan)

	select {
	case jobErr := <-js.Errors():
		assert.Equal(t, renderer.JobID("failing"), jobErr.ID)
		assert.Equal(t, renderer.JobRoleBuildGeometry, jobErr.Role)
		assert.ErrorIs(t, jobErr.Err, boom)
	case <-time.After(time.Second):
		t.Fatal("job failure never surfaced on the error channel")
	}
}

// Edges pointing outside the batch must not gate execution; the referenced
// work belongs to a previous tick.
func TestSchedulerIgnoresEdgesOutsideBatch(t *testing.T) {
	js, err := NewJobScheduler(2, 16)
	require.NoError(t, err)
	defer js.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)

	outside := renderer.NewJob("outside", renderer.JobRoleBuildGeometry, nil)
	job := renderer.NewJob("job", renderer.JobRoleBuildTLAS, func() error {
		defer wg.Done()
		return nil
	})
	job.AddDependency(outside)

	js.Run([]*renderer.Job{job})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job with an out-of-batch edge never ran")
	}
}

// Shutdown must wait for in-flight dependency chains, not just the channel
// backlog: a completing job may still release dependents into the queue.
func TestSchedulerShutdownWaitsForDependencyChains(t *testing.T) {
	js, err := NewJobScheduler(1, 16)
	require.NoError(t, err)

	release := make(chan struct{})
	var mutex sync.Mutex
	var order []renderer.JobID
	record := func(id renderer.JobID, gate chan struct{}) func() error {
		return func() error {
			if gate != nil {
				<-gate
			}
			mutex.Lock()
			order = append(order, id)
			mutex.Unlock()
			return nil
		}
	}

	head := renderer.NewJob("head", renderer.JobRoleBuildGeometry, record("head", release))
	tail := renderer.NewJob("tail", renderer.JobRoleBuildTLAS, record("tail", nil))
	tail.AddDependency(head)

	js.Run([]*renderer.Job{head, tail})

	done := make(chan error, 1)
	go func() { done <- js.Shutdown() }()

	// Shutdown must block while the chain is still executing.
	select {
	case <-done:
		t.Fatal("shutdown returned before the dependency chain finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown never completed after the chain drained")
	}

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, []renderer.JobID{"head", "tail"}, order)
}

func TestSchedulerShutdownDrainsQueuedWork(t *testing.T) {
	js, err := NewJobScheduler(1, 64)
	require.NoError(t, err)

	var mutex sync.Mutex
	ran := 0
	jobs := make([]*renderer.Job, 0, 32)
	for i := 0; i < 32; i++ {
		jobs = append(jobs, renderer.NewJob(renderer.JobID(rune('a'+i)), renderer.JobRoleBuildGeometry, func() error {
			mutex.Lock()
			ran++
			mutex.Unlock()
			return nil
		}))
	}
	js.Run(jobs)

	require.NoError(t, js.Shutdown())
	assert.Equal(t, 32, ran)
}
