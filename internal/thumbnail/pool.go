// Package thumbnail drains a priority queue of thumbnail tasks with a fixed
// set of workers, retrying failures with exponential backoff.
//
// A sketch has at most one task queued or running at a time. Idle workers
// park on a wake channel until work arrives or the pool stops.
package thumbnail

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sketchd/internal/cache"
	"sketchd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultWorkers         = 2
	defaultMaxAttempts     = 3
	defaultRetryDelay      = 5 * time.Second
	defaultRetryMultiplier = 2.0
)

// GenerateFunc produces a thumbnail for sketch, executing it when needed.
type GenerateFunc func(ctx context.Context, sketch, path string) (cache.Entry, error)

// Index answers which sketches already have thumbnails.
type Index interface {
	HasThumbnail(sketch string) bool
	MissingThumbnails() []string
}

// TaskResult is the final outcome of a task.
type TaskResult struct {
	Sketch       string    `json:"sketch_name"`
	Success      bool      `json:"success"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
	// Seconds spent in the last attempt.
	ExecutionTime float64   `json:"execution_time"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Config encapsulates all tunables for Pool construction.
type Config struct {
	Workers         int
	MaxAttempts     int
	RetryDelay      time.Duration
	RetryMultiplier float64
	// Zero disables the periodic scan for missing thumbnails.
	BackfillInterval time.Duration

	Generate GenerateFunc
	Index    Index
	// Resolve maps a sketch name to its script path for backfill.
	Resolve func(sketch string) (string, bool)
	Logger  zerolog.Logger
}

// Pool is the thumbnail worker pool.
type Pool struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	queue     taskHeap
	queued    map[string]*task
	active    map[string]*task
	results   map[string]TaskResult
	callbacks []func(TaskResult)
	stats     types.QueueStats
	seq       uint64
	running   bool
	stopped   bool
	stopCh    chan struct{}
	wake      chan struct{}
	wg        sync.WaitGroup
}

func New(cfg Config) (*Pool, error) {
	if cfg.Generate == nil {
		return nil, errors.New("thumbnail: generate func is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RetryMultiplier < 1 {
		cfg.RetryMultiplier = defaultRetryMultiplier
	}
	return &Pool{
		cfg:     cfg,
		log:     cfg.Logger,
		queued:  make(map[string]*task),
		active:  make(map[string]*task),
		results: make(map[string]TaskResult),
		wake:    make(chan struct{}, 1),
	}, nil
}

// OnComplete registers cb for every final task outcome. Callbacks run on the
// worker goroutine.
func (p *Pool) OnComplete(cb func(TaskResult)) {
	p.mu.Lock()
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

// Start launches the workers. Tasks enqueued earlier are kept.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopped = false
	p.stopCh = make(chan struct{})
	p.stats.StartedAt = time.Now().Unix()
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(p.stopCh)
	}
	if p.cfg.BackfillInterval > 0 && p.cfg.Index != nil && p.cfg.Resolve != nil {
		p.wg.Add(1)
		go p.backfillLoop(p.stopCh)
	}
	if p.queue.Len() > 0 {
		p.signal()
	}
	p.log.Info().Int("workers", p.cfg.Workers).Msg("thumbnail pool started")
}

// Stop drops queued tasks and tasks waiting to retry, then waits for
// in-flight attempts to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	close(p.stopCh)
	dropped := p.queue.Len()
	p.queue = nil
	p.queued = make(map[string]*task)
	for sketch, t := range p.active {
		if t.timer != nil {
			t.timer.Stop()
			delete(p.active, sketch)
			dropped++
		}
	}
	queueDepth.Set(0)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Int("dropped", dropped).Msg("thumbnail pool stopped")
}

// Enqueue adds a task for sketch. It returns false after Stop, when the
// sketch is already queued or running, or, unless force is set, when it
// already has a thumbnail. Tasks added before Start wait for the workers.
func (p *Pool) Enqueue(sketch, path string, prio Priority, force bool) bool {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return false
	}
	if !force && p.cfg.Index != nil && p.cfg.Index.HasThumbnail(sketch) {
		p.mu.Lock()
		p.stats.SkippedTasks++
		p.mu.Unlock()
		tasksTotal.WithLabelValues("skipped").Inc()
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.queued[sketch] != nil || p.active[sketch] != nil {
		return false
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryDelay
	bo.Multiplier = p.cfg.RetryMultiplier
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()
	t := &task{sketch: sketch, path: path, priority: prio, force: force, enqueued: time.Now(), bo: bo}
	p.pushLocked(t)
	p.stats.TotalTasks++
	return true
}

// EnqueueMany queues every sketch, examples at examplePrio and the rest at
// userPrio. It returns how many were accepted.
func (p *Pool) EnqueueMany(sketches []types.Sketch, userPrio, examplePrio Priority) int {
	n := 0
	for _, s := range sketches {
		prio := userPrio
		if s.Source == types.SourceExample {
			prio = examplePrio
		}
		if p.Enqueue(s.Name, s.Path, prio, false) {
			n++
		}
	}
	return n
}

func (p *Pool) pushLocked(t *task) {
	p.seq++
	t.seq = p.seq
	heap.Push(&p.queue, t)
	p.queued[t.sketch] = t
	queueDepth.Set(float64(p.queue.Len()))
	p.signal()
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) worker(stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		t := p.next(stop)
		if t == nil {
			return
		}
		p.process(t)
	}
}

// next blocks until a task is available or the pool stops.
func (p *Pool) next(stop <-chan struct{}) *task {
	for {
		p.mu.Lock()
		select {
		case <-stop:
			p.mu.Unlock()
			return nil
		default:
		}
		if p.queue.Len() > 0 {
			t := heap.Pop(&p.queue).(*task)
			delete(p.queued, t.sketch)
			p.active[t.sketch] = t
			queueDepth.Set(float64(p.queue.Len()))
			if p.queue.Len() > 0 {
				p.signal()
			}
			p.mu.Unlock()
			return t
		}
		p.mu.Unlock()
		select {
		case <-p.wake:
		case <-stop:
			return nil
		}
	}
}

func (p *Pool) process(t *task) {
	if !t.force && p.cfg.Index != nil && p.cfg.Index.HasThumbnail(t.sketch) {
		p.mu.Lock()
		delete(p.active, t.sketch)
		p.stats.SkippedTasks++
		p.mu.Unlock()
		tasksTotal.WithLabelValues("skipped").Inc()
		return
	}

	t.attempts++
	start := time.Now()
	entry, err := p.cfg.Generate(context.Background(), t.sketch, t.path)
	elapsed := time.Since(start)
	taskDuration.Observe(elapsed.Seconds())

	p.mu.Lock()
	p.stats.TotalExecutionTime += elapsed.Seconds()
	p.mu.Unlock()

	if err == nil {
		p.complete(t, TaskResult{Success: true, ThumbnailURL: entry.ThumbnailURL()}, elapsed)
		return
	}
	// undecodable artifacts are final
	if t.attempts < p.cfg.MaxAttempts && !cache.IsThumbnailUnavailable(err) {
		p.scheduleRetry(t, err)
		return
	}
	p.complete(t, TaskResult{Error: err.Error()}, elapsed)
}

// scheduleRetry parks t in the active set until its backoff expires. A
// stopping pool drops it instead.
func (p *Pool) scheduleRetry(t *task, cause error) {
	delay := t.bo.NextBackOff()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		delete(p.active, t.sketch)
		return
	}
	tasksTotal.WithLabelValues("retried").Inc()
	p.log.Warn().Err(cause).Str("sketch", t.sketch).Int("attempt", t.attempts).Dur("retry_in", delay).Msg("thumbnail attempt failed")
	t.timer = time.AfterFunc(delay, func() { p.requeue(t) })
}

func (p *Pool) requeue(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.active[t.sketch] != t || t.timer == nil {
		return
	}
	t.timer = nil
	delete(p.active, t.sketch)
	p.pushLocked(t)
}

func (p *Pool) complete(t *task, r TaskResult, elapsed time.Duration) {
	r.Sketch = t.sketch
	r.Attempts = t.attempts
	r.ExecutionTime = float64(elapsed.Milliseconds()) / 1000
	r.FinishedAt = time.Now()

	p.mu.Lock()
	delete(p.active, t.sketch)
	p.results[t.sketch] = r
	if r.Success {
		p.stats.CompletedTasks++
	} else {
		p.stats.FailedTasks++
	}
	cbs := append([]func(TaskResult){}, p.callbacks...)
	p.mu.Unlock()

	if r.Success {
		tasksTotal.WithLabelValues("completed").Inc()
		p.log.Info().Str("sketch", t.sketch).Int("attempts", t.attempts).Msg("thumbnail ready")
	} else {
		tasksTotal.WithLabelValues("failed").Inc()
		p.log.Error().Str("sketch", t.sketch).Int("attempts", t.attempts).Str("error", r.Error).Msg("thumbnail failed permanently")
	}
	for _, cb := range cbs {
		p.invoke(cb, r)
	}
}

func (p *Pool) invoke(cb func(TaskResult), r TaskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Str("sketch", r.Sketch).Interface("panic", rec).Msg("thumbnail callback panicked")
		}
	}()
	cb(r)
}

func (p *Pool) backfillLoop(stop <-chan struct{}) {
	defer p.wg.Done()
	tk := time.NewTicker(p.cfg.BackfillInterval)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			n := 0
			for _, sketch := range p.cfg.Index.MissingThumbnails() {
				path, ok := p.cfg.Resolve(sketch)
				if ok && p.Enqueue(sketch, path, Low, false) {
					n++
				}
			}
			if n > 0 {
				p.log.Debug().Int("queued", n).Msg("thumbnail backfill")
			}
		case <-stop:
			return
		}
	}
}

// Result returns the last final outcome for sketch.
func (p *Pool) Result(sketch string) (TaskResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.results[sketch]
	return r, ok
}

// Pending reports whether sketch is queued or running.
func (p *Pool) Pending(sketch string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued[sketch] != nil || p.active[sketch] != nil
}

// Status snapshots the queue.
func (p *Pool) Status() types.QueueStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := types.QueueStatus{
		TotalQueued: p.queue.Len(),
		ActiveTasks: len(p.active),
		ByPriority:  map[string]int{High.String(): 0, Medium.String(): 0, Low.String(): 0},
		Stats:       p.stats,
		IsRunning:   p.running,
	}
	for _, t := range p.queue {
		st.ByPriority[t.priority.String()]++
	}
	st.Stats.TotalExecutionTime = float64(int64(st.Stats.TotalExecutionTime*1000)) / 1000
	return st
}
