package sync

import (
	"context"
	"hash/fnv"
	"log/slog"
	gosync "sync"
	"time"
)

// TaskKind distinguishes the notifications a worker can receive.
type TaskKind int

const (
	// TaskUpsert handles a create or write notification.
	TaskUpsert TaskKind = iota
	// TaskRemove records a removal and opens the rename-pairing window.
	TaskRemove
	// TaskFinalizeRemove commits a removal the window did not pair.
	TaskFinalizeRemove
)

// Task is one unit of work routed to a worker.
type Task struct {
	Kind TaskKind
	Path string
}

// Dispatcher fans change events out to a fixed pool of workers. Events are
// routed by a hash of the document path, so all events for one path land on
// the same worker and are processed in arrival order; events for different
// paths proceed concurrently.
type Dispatcher struct {
	svc      *Service
	logger   *slog.Logger
	queues   []chan Task
	quit     chan struct{}
	wg       gosync.WaitGroup
	stopOnce gosync.Once
	window   time.Duration
}

// NewDispatcher creates a dispatcher with the given worker count and
// per-worker queue capacity. window is the rename-pairing window applied to
// removals before they become deletes.
func NewDispatcher(svc *Service, workers, queueSize int, window time.Duration, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if window <= 0 {
		window = 2 * time.Second
	}
	d := &Dispatcher{
		svc:    svc,
		logger: logger,
		queues: make([]chan Task, workers),
		quit:   make(chan struct{}),
		window: window,
	}
	for i := range d.queues {
		d.queues[i] = make(chan Task, queueSize)
	}
	return d
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for _, q := range d.queues {
		d.wg.Add(1)
		go d.worker(q)
	}
}

// Enqueue routes a task to its path's worker. Blocks when that worker's queue
// is full so a burst backpressures the producer instead of dropping events.
// After Stop the task is discarded.
func (d *Dispatcher) Enqueue(t Task) {
	select {
	case <-d.quit:
		return
	default:
	}
	select {
	case d.queues[d.pick(t.Path)] <- t:
	case <-d.quit:
	}
}

// Stop shuts the pool down: in-flight tasks finish, queued tasks are
// discarded, and no new tasks are accepted. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.quit) })
	d.wg.Wait()
}

func (d *Dispatcher) pick(path string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) worker(q chan Task) {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case t := <-q:
			d.handle(t)
		}
	}
}

func (d *Dispatcher) handle(t Task) {
	switch t.Kind {
	case TaskUpsert:
		if err := d.svc.ProcessWrite(context.Background(), t.Path); err != nil {
			d.logger.Warn("sync: write event failed",
				slog.String("path", t.Path), slog.String("error", err.Error()))
		}
	case TaskRemove:
		if change := d.svc.Detector().OnRemove(t.Path); change != nil {
			// Hold the delete until the rename window passes; a create with
			// the same fingerprint in the meantime claims it as a move.
			time.AfterFunc(d.window, func() {
				d.Enqueue(Task{Kind: TaskFinalizeRemove, Path: t.Path})
			})
		}
	case TaskFinalizeRemove:
		if !d.svc.Detector().TakeRemoval(t.Path) {
			return
		}
		if err := d.svc.DeleteDocument(t.Path); err != nil {
			d.logger.Warn("sync: delete event failed",
				slog.String("path", t.Path), slog.String("error", err.Error()))
		}
	}
}
