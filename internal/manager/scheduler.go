package manager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"npud/internal/hal"
	"npud/internal/registry"
	"npud/pkg/types"
)

// Scheduler drains five priority FIFO queues with a single dispatch loop.
// Dispatch is strictly by priority; within one level tasks run in
// submission order. Device execution itself happens on per-task goroutines,
// bounded per device by its concurrent-inference capability.
type Scheduler struct {
	cfg     Config
	alloc   *Allocator
	devices func() []*Device
	pub     EventPublisher

	mu      sync.Mutex
	queues  [types.NumPriorities][]*task
	tasks   map[types.TaskID]*task

	completed   uint64
	failed      uint64
	cancelled   uint64
	totalExec   time.Duration
	execSamples uint64

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

func newScheduler(cfg Config, alloc *Allocator, devices func() []*Device) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		alloc:   alloc,
		devices: devices,
		pub:     cfg.Publisher,
		tasks:   make(map[types.TaskID]*task),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (s *Scheduler) start() {
	s.wg.Add(2)
	go s.loop()
	go s.reapLoop()
}

// Submit validates and enqueues; it returns before any dispatch happens.
func (s *Scheduler) Submit(req types.InferenceRequest, prio types.Priority,
	res types.ResourceSpec, hints types.SchedulingHints) (types.TaskID, error) {
	if !prio.Valid() {
		return "", ErrInvalidTask("unknown priority")
	}
	if req.Timeout <= 0 {
		return "", ErrInvalidTask("zero timeout")
	}
	id := types.TaskID(uuid.NewString())
	t := newTask(id, req, prio, res, hints, s.cfg)

	s.mu.Lock()
	s.tasks[id] = t
	s.queues[prio] = append(s.queues[prio], t)
	queueDepth.WithLabelValues(prio.String()).Inc()
	s.mu.Unlock()

	s.pub.Publish(Event{Name: "task_queued", TaskID: id, Fields: map[string]any{"priority": prio.String()}})
	log.Debug().Str("task", string(id)).Str("priority", prio.String()).Msg("task queued")
	s.wake()
	return id, nil
}

// Status returns the task's current status, or false for an unknown or
// reaped id.
func (s *Scheduler) Status(id types.TaskID) (types.TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return types.TaskStatus{}, false
	}
	return t.status(), true
}

// Cancel removes a queued task immediately; for a running task it requests
// cooperative abort and leaves final cleanup to the driver return or the
// reaper sweep.
func (s *Scheduler) Cancel(id types.TaskID) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask(id)
	}
	if t.state.Terminal() {
		s.mu.Unlock()
		return ErrAlreadyTerminal(id, t.state)
	}
	if t.state == types.TaskQueued {
		s.removeFromQueueLocked(t)
		t.state = types.TaskCancelled
		t.finishedAt = time.Now()
		s.cancelled++
		tasksTotal.WithLabelValues(string(types.TaskCancelled)).Inc()
		s.mu.Unlock()
		s.pub.Publish(Event{Name: "task_cancelled", TaskID: id})
		return nil
	}
	// Running: cooperative abort.
	t.cancelRequested = true
	cancel := t.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	log.Debug().Str("task", string(id)).Msg("cancellation requested for running task")
	return nil
}

// Counts returns queued and running task counts.
func (s *Scheduler) Counts() (queued, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queues {
		queued += len(q)
	}
	for _, t := range s.tasks {
		if t.state == types.TaskRunning {
			running++
		}
	}
	return queued, running
}

// Totals returns terminal-state counters and the mean execution time.
func (s *Scheduler) Totals() (completed, failed uint64, avg time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execSamples > 0 {
		avg = s.totalExec / time.Duration(s.execSamples)
	}
	return s.completed, s.failed, avg
}

// Drain cancels all queued tasks and waits for running work, bounded by the
// shutdown timeout.
func (s *Scheduler) Drain() {
	close(s.stop)
	s.mu.Lock()
	for p := range s.queues {
		for _, t := range s.queues[p] {
			t.state = types.TaskCancelled
			t.finishedAt = time.Now()
			s.cancelled++
		}
		queueDepth.WithLabelValues(types.Priority(p).String()).Set(0)
		s.queues[p] = nil
	}
	var cancels []context.CancelFunc
	for _, t := range s.tasks {
		if t.state == types.TaskRunning && t.cancel != nil {
			t.cancelRequested = true
			cancels = append(cancels, t.cancel)
		}
	}
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		log.Warn().Msg("scheduler drain timed out waiting for running tasks")
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// loop is the single dispatch loop: one task considered per cycle.
func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		t, wait := s.next()
		if t != nil {
			s.dispatch(t)
			continue
		}
		if wait <= 0 {
			select {
			case <-s.notify:
			case <-s.stop:
				return
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.notify:
		case <-s.stop:
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

// next pops the head of the highest-priority non-empty queue. If that head
// is still inside its retry backoff window, next returns nil with the time
// to wait: strict priority means we do not skip ahead to lower levels.
func (s *Scheduler) next() (*task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for p := range s.queues {
		q := s.queues[p]
		if len(q) == 0 {
			continue
		}
		head := q[0]
		if head.nextAttempt.After(now) {
			return nil, head.nextAttempt.Sub(now)
		}
		s.queues[p] = q[1:]
		queueDepth.WithLabelValues(types.Priority(p).String()).Dec()
		return head, 0
	}
	return nil, 0
}

func (s *Scheduler) removeFromQueueLocked(t *task) {
	q := s.queues[t.priority]
	for i, qt := range q {
		if qt == t {
			s.queues[t.priority] = append(q[:i], q[i+1:]...)
			queueDepth.WithLabelValues(t.priority.String()).Dec()
			return
		}
	}
}

// requeueLocked puts t back at the head of its queue so submission order
// within the priority level is preserved.
func (s *Scheduler) requeueLocked(t *task) {
	s.queues[t.priority] = append([]*task{t}, s.queues[t.priority]...)
	queueDepth.WithLabelValues(t.priority.String()).Inc()
}

func (s *Scheduler) dispatch(t *task) {
	s.mu.Lock()
	if t.state != types.TaskQueued {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	var alloc *Allocation
	var dev *Device
	for _, cand := range s.candidates(t) {
		a, err := s.alloc.Reserve(cand, t.resources, t.deadline)
		if err == nil {
			alloc, dev = a, cand
			break
		}
		if hal.IsInternalInconsistency(err) {
			s.failTask(t, err)
			return
		}
		log.Debug().Str("task", string(t.id)).Str("device", string(cand.ID())).
			Err(err).Msg("reservation rejected, trying next candidate")
	}

	if alloc == nil {
		s.mu.Lock()
		if t.state != types.TaskQueued {
			s.mu.Unlock()
			return
		}
		t.attempts++
		dispatchRetriesTotal.Inc()
		if t.attempts >= s.cfg.MaxRetries {
			s.finishLocked(t, nil, hal.ErrResourceUnavailable("no device could admit the task"), 0)
			s.mu.Unlock()
			return
		}
		t.nextAttempt = time.Now().Add(t.retry.NextBackOff())
		s.requeueLocked(t)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if t.state != types.TaskQueued {
		// Cancelled while we were reserving.
		s.mu.Unlock()
		s.alloc.Release(alloc)
		return
	}
	t.state = types.TaskRunning
	t.alloc = alloc
	t.device = dev
	ctx, cancel := context.WithDeadline(context.Background(), t.deadline)
	t.cancel = cancel
	s.mu.Unlock()

	s.pub.Publish(Event{Name: "task_running", TaskID: t.id, Fields: map[string]any{"device": string(dev.ID())}})
	log.Debug().Str("task", string(t.id)).Str("device", string(dev.ID())).Msg("task dispatched")

	dev.beginTask()
	s.wg.Add(1)
	go s.execute(ctx, t, dev)
}

func (s *Scheduler) execute(ctx context.Context, t *task, dev *Device) {
	defer s.wg.Done()
	defer dev.endTask()
	start := time.Now()
	result, err := runOnDevice(ctx, dev, t.req)
	s.finish(t, result, err, time.Since(start))
}

// runOnDevice loads the model, runs the inference, and drops the model
// reference again. Load and unload are serialized against allocations on
// the same device by the driver's own exclusive section.
func runOnDevice(ctx context.Context, dev *Device, req types.InferenceRequest) (*types.InferenceResult, error) {
	drv := dev.Driver()
	h, err := drv.LoadModel(req.ModelPath)
	if err != nil {
		return nil, err
	}
	dev.modelLoaded()
	defer func() {
		if uerr := drv.UnloadModel(h); uerr != nil {
			log.Warn().Err(uerr).Str("device", string(dev.ID())).Msg("model unload failed")
		}
		dev.modelUnloaded()
	}()

	start := time.Now()
	outputs, err := drv.RunInference(ctx, h, req.Inputs)
	if err != nil {
		return nil, err
	}
	return &types.InferenceResult{
		Outputs:  outputs,
		Duration: time.Since(start),
		DeviceID: dev.ID(),
		Metadata: req.Metadata,
	}, nil
}

func (s *Scheduler) failTask(t *task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	s.finishLocked(t, nil, err, 0)
}

func (s *Scheduler) finish(t *task, result *types.InferenceResult, err error, dur time.Duration) {
	s.mu.Lock()
	alloc := t.alloc
	cancel := t.cancel
	s.finishLocked(t, result, err, dur)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.alloc.Release(alloc)
	s.wake()
}

// finishLocked applies the terminal transition; callers hold s.mu. The
// state machine is monotonic: a task already terminal (reaper timeout,
// cancel) is left untouched.
func (s *Scheduler) finishLocked(t *task, result *types.InferenceResult, err error, dur time.Duration) {
	if t.state.Terminal() {
		return
	}
	t.finishedAt = time.Now()
	switch {
	case err == nil:
		t.state = types.TaskCompleted
		t.output = result
		s.completed++
		s.totalExec += dur
		s.execSamples++
		inferenceDuration.Observe(dur.Seconds())
	case t.cancelRequested && errors.Is(err, context.Canceled):
		t.state = types.TaskCancelled
		s.cancelled++
	default:
		t.state = types.TaskFailed
		t.reason = err.Error()
		s.failed++
	}
	tasksTotal.WithLabelValues(string(t.state)).Inc()
	s.pub.Publish(Event{Name: "task_" + string(t.state), TaskID: t.id})
	ev := log.Debug()
	if t.state == types.TaskFailed {
		ev = log.Info().Str("reason", t.reason)
	}
	ev.Str("task", string(t.id)).Str("state", string(t.state)).Msg("task finished")
}

// candidates builds and ranks the device set for t. Hard constraints
// (avoid_devices, required_memory_type, capability support, a free
// execution slot) always apply; soft hints are relaxed in the documented
// order until a pass yields candidates.
func (s *Scheduler) candidates(t *task) []*Device {
	var hard []*Device
	format, formatKnown := registry.FormatFromPath(t.req.ModelPath)
	for _, d := range s.devices() {
		if containsID(t.hints.AvoidDevices, d.ID()) {
			continue
		}
		caps := d.Capabilities()
		if t.hints.RequiredMemoryType != "" && caps.MemoryType != t.hints.RequiredMemoryType {
			continue
		}
		if !supportsTask(caps, t, format, formatKnown) {
			continue
		}
		if !caps.ConcurrentInference && d.Inflight() > 0 {
			continue
		}
		hard = append(hard, d)
	}

	inBytes := 0
	for _, in := range t.req.Inputs {
		inBytes += len(in.Data)
	}
	passes := []func(*Device) bool{
		// Pass 0: all soft hints.
		func(d *Device) bool {
			return preferredOK(t, d) && topsOK(t, d) && latencyOK(t, d, inBytes)
		},
		// Relax max_latency.
		func(d *Device) bool { return preferredOK(t, d) && topsOK(t, d) },
		// Relax min_tops.
		func(d *Device) bool { return preferredOK(t, d) },
		// Relax preferred_devices.
		func(d *Device) bool { return true },
	}
	var cands []*Device
	for _, pass := range passes {
		for _, d := range hard {
			if pass(d) {
				cands = append(cands, d)
			}
		}
		if len(cands) > 0 {
			break
		}
	}

	// Rank by free memory, then by current utilization.
	sort.SliceStable(cands, func(i, j int) bool {
		fi, fj := cands[i].FreeMemory(), cands[j].FreeMemory()
		if fi != fj {
			return fi > fj
		}
		return cands[i].Driver().Utilization() < cands[j].Driver().Utilization()
	})
	return cands
}

func supportsTask(caps types.Capabilities, t *task, format types.ModelFormat, formatKnown bool) bool {
	for _, unit := range t.resources.ComputeUnits {
		if !caps.HasComputeUnit(unit) {
			return false
		}
	}
	for _, in := range t.req.Inputs {
		if !caps.SupportsDataType(in.DataType) {
			return false
		}
	}
	// Unknown extensions are left for the driver to reject on load.
	if formatKnown && !caps.SupportsFormat(format) {
		return false
	}
	return true
}

func preferredOK(t *task, d *Device) bool {
	if len(t.hints.PreferredDevices) == 0 {
		return true
	}
	return containsID(t.hints.PreferredDevices, d.ID())
}

func topsOK(t *task, d *Device) bool {
	return t.hints.MinTOPS <= 0 || d.Capabilities().PeakTOPS >= t.hints.MinTOPS
}

// latencyOK estimates execution time from input size and the device's TOPS
// rating, mirroring the mock driver's latency model.
func latencyOK(t *task, d *Device, inBytes int) bool {
	if t.hints.MaxLatency <= 0 {
		return true
	}
	tops := d.Capabilities().PeakTOPS
	if tops <= 0 {
		tops = 1
	}
	micros := float64(inBytes) / (tops * 1000)
	return time.Duration(micros*float64(time.Microsecond)) <= t.hints.MaxLatency
}

func containsID(ids []types.DeviceID, id types.DeviceID) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}
