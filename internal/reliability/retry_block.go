package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaximumAttempts is the number of handler invocations made for a queued item
const DefaultMaximumAttempts = 3

// RetryBlock is a bounded-concurrency work queue that runs a handler against every posted
// payload and re-queues failed payloads with a pause until they succeed or run out of attempts.
//
// Handler errors never reach the caller of Post. They are logged and drive the retry or discard
// decision. A discarded payload is only visible through logs, metrics and the discard hook.
type RetryBlock[T any] struct {
	handler ItemHandler[T]
	opts    blockOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Item[T]
	pending   int // queued or executing, including retries
	completed bool

	wg   sync.WaitGroup
	done chan struct{}

	posted    atomic.Int64
	succeeded atomic.Int64
	retried   atomic.Int64
	discarded atomic.Int64
	inFlight  atomic.Int64
}

// RetryBlockOption configures a RetryBlock
type RetryBlockOption func(*blockOptions)

type blockOptions struct {
	name            string
	logger          *slog.Logger
	metrics         Metrics
	pauses          []time.Duration
	maximumAttempts int
	parallelism     int
	capacity        int
	onDiscard       func(DiscardedItem)
}

// WithName sets the block name used in log records and discard notifications
func WithName(name string) RetryBlockOption {
	return func(o *blockOptions) {
		o.name = name
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) RetryBlockOption {
	return func(o *blockOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics Metrics) RetryBlockOption {
	return func(o *blockOptions) {
		o.metrics = metrics
	}
}

// WithPauses sets the pause table. An empty table means no pause between attempts.
func WithPauses(pauses ...time.Duration) RetryBlockOption {
	return func(o *blockOptions) {
		o.pauses = append([]time.Duration(nil), pauses...)
	}
}

// WithMaximumAttempts sets how many times a queued item is executed before it is discarded
func WithMaximumAttempts(attempts int) RetryBlockOption {
	return func(o *blockOptions) {
		o.maximumAttempts = attempts
	}
}

// WithParallelism sets how many handler invocations may run at once
func WithParallelism(workers int) RetryBlockOption {
	return func(o *blockOptions) {
		o.parallelism = workers
	}
}

// WithBoundedCapacity limits the number of queued items accepted from Post. Zero means unbounded.
// Retries are always re-queued regardless of the bound.
func WithBoundedCapacity(capacity int) RetryBlockOption {
	return func(o *blockOptions) {
		o.capacity = capacity
	}
}

// WithDiscardHandler registers a callback invoked when an item exhausts its attempts
func WithDiscardHandler(fn func(DiscardedItem)) RetryBlockOption {
	return func(o *blockOptions) {
		o.onDiscard = fn
	}
}

// NewRetryBlockFunc creates a RetryBlock around a handler function
func NewRetryBlockFunc[T any](ctx context.Context, fn func(context.Context, T) error, options ...RetryBlockOption) *RetryBlock[T] {
	if fn == nil {
		panic(ErrNilHandler)
	}
	return NewRetryBlock[T](ctx, ItemHandlerFunc[T](fn), options...)
}

// NewRetryBlock creates a RetryBlock and starts its workers. The context governs the whole
// block: once it is done, pauses abort and no further handler calls begin.
func NewRetryBlock[T any](ctx context.Context, handler ItemHandler[T], options ...RetryBlockOption) *RetryBlock[T] {
	if handler == nil {
		panic(ErrNilHandler)
	}

	opts := blockOptions{
		name:            "retry",
		logger:          slog.Default(),
		metrics:         NopMetrics{},
		pauses:          DefaultPauses(),
		maximumAttempts: DefaultMaximumAttempts,
		parallelism:     1,
	}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.metrics == nil {
		opts.metrics = NopMetrics{}
	}
	if opts.maximumAttempts <= 0 {
		opts.maximumAttempts = 1 // At least try once
	}
	if opts.parallelism <= 0 {
		opts.parallelism = 1
	}
	if opts.capacity < 0 {
		opts.capacity = 0
	}

	blockCtx, cancel := context.WithCancel(ctx)
	b := &RetryBlock[T]{
		handler: handler,
		opts:    opts,
		ctx:     blockCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)

	// Wake idle workers so they observe cancellation
	context.AfterFunc(blockCtx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})

	b.wg.Add(opts.parallelism)
	for i := 0; i < opts.parallelism; i++ {
		go b.worker()
	}

	go func() {
		b.wg.Wait()
		b.cancel()
		close(b.done)
	}()

	return b
}

// Name returns the block name
func (b *RetryBlock[T]) Name() string {
	return b.opts.name
}

// MaximumAttempts returns the configured attempt limit
func (b *RetryBlock[T]) MaximumAttempts() int {
	return b.opts.maximumAttempts
}

// Pauses returns a copy of the pause table
func (b *RetryBlock[T]) Pauses() []time.Duration {
	return append([]time.Duration(nil), b.opts.pauses...)
}

// Post queues a payload for execution and returns without waiting for it.
// The first attempt also waits for the first pause.
func (b *RetryBlock[T]) Post(message T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completed {
		return ErrBlockCompleted
	}
	if b.ctx.Err() != nil {
		return ErrBlockCancelled
	}
	if b.opts.capacity > 0 && len(b.queue) >= b.opts.capacity {
		return ErrQueueFull
	}

	b.pending++
	b.posted.Add(1)
	b.enqueueLocked(newItem(message))
	return nil
}

// PostDirect runs the handler on the calling goroutine. It reports true when the handler
// succeeded right away. On failure the error is logged and the payload is queued with a fresh
// attempt count; the direct attempt does not count toward the maximum. The returned error is
// only set when the fallback Post is rejected.
func (b *RetryBlock[T]) PostDirect(message T) (bool, error) {
	if err := b.acceptErr(); err != nil {
		return false, err
	}

	start := time.Now()
	err := b.invoke(message)
	b.opts.metrics.ObserveAttempt(time.Since(start), err == nil)
	if err == nil {
		b.posted.Add(1)
		b.succeeded.Add(1)
		b.opts.metrics.AddCompleted(1)
		return true, nil
	}

	// Cancellation is shutdown; the fallback Post reports it
	if b.ctx.Err() != nil {
		b.opts.logger.Debug("retry block cancelled during direct execution",
			"block", b.opts.name,
			"item", message,
		)
		return false, b.Post(message)
	}

	b.opts.logger.Error("direct execution failed, queueing for retry",
		"block", b.opts.name,
		"item", message,
		"error", err,
	)

	return false, b.Post(message)
}

// DeterminePauseTime returns the pause taken before the given 1-based attempt
func (b *RetryBlock[T]) DeterminePauseTime(attempt int) time.Duration {
	return pauseFor(b.opts.pauses, attempt)
}

// Drain stops accepting new posts and waits until every queued and in-flight item, including
// retries, has finished. It returns ctx.Err() if ctx ends first. If the block is cancelled
// while draining, Drain returns once the workers stop and remaining items are abandoned.
func (b *RetryBlock[T]) Drain(ctx context.Context) error {
	b.complete()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting posts and cancels the block without waiting. Pending pauses abort and
// no new handler calls begin; a handler call already running sees a cancelled context.
func (b *RetryBlock[T]) Close() {
	b.complete()
	b.cancel()
}

// Completion is closed once every worker has exited
func (b *RetryBlock[T]) Completion() <-chan struct{} {
	return b.done
}

// Stats returns a snapshot of the block counters
func (b *RetryBlock[T]) Stats() BlockStats {
	b.mu.Lock()
	queued := len(b.queue)
	pending := b.pending
	b.mu.Unlock()

	return BlockStats{
		Name:      b.opts.name,
		Queued:    queued,
		Pending:   pending,
		InFlight:  int(b.inFlight.Load()),
		Posted:    b.posted.Load(),
		Completed: b.succeeded.Load(),
		Retried:   b.retried.Load(),
		Discarded: b.discarded.Load(),
	}
}

// BlockStats represents retry block statistics
type BlockStats struct {
	Name      string `json:"name"`
	Queued    int    `json:"queued"`
	Pending   int    `json:"pending"`
	InFlight  int    `json:"in_flight"`
	Posted    int64  `json:"posted"`
	Completed int64  `json:"completed"`
	Retried   int64  `json:"retried"`
	Discarded int64  `json:"discarded"`
}

func (b *RetryBlock[T]) acceptErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completed {
		return ErrBlockCompleted
	}
	if b.ctx.Err() != nil {
		return ErrBlockCancelled
	}
	return nil
}

func (b *RetryBlock[T]) complete() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.completed = true
	b.cond.Broadcast()
}

// enqueueLocked appends to the back of the queue. Caller holds b.mu.
func (b *RetryBlock[T]) enqueueLocked(item Item[T]) {
	b.queue = append(b.queue, item)
	b.opts.metrics.SetQueued(len(b.queue))
	b.cond.Signal()
}

// worker takes items off the queue until the block is cancelled or drained
func (b *RetryBlock[T]) worker() {
	defer b.wg.Done()

	for {
		item, ok := b.next()
		if !ok {
			return
		}
		b.execute(item)
	}
}

func (b *RetryBlock[T]) next() (Item[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.ctx.Err() != nil {
			return Item[T]{}, false
		}
		if len(b.queue) > 0 {
			break
		}
		if b.completed && b.pending == 0 {
			return Item[T]{}, false
		}
		b.cond.Wait()
	}

	item := b.queue[0]
	b.queue[0] = Item[T]{}
	b.queue = b.queue[1:]
	b.opts.metrics.SetQueued(len(b.queue))
	return item, true
}

// execute runs one attempt for an item taken off the queue
func (b *RetryBlock[T]) execute(item Item[T]) {
	item = item.next()

	if err := b.pause(b.DeterminePauseTime(item.Attempts)); err != nil {
		b.opts.logger.Debug("retry block cancelled before attempt",
			"block", b.opts.name,
			"item", item.Message,
			"attempt", item.Attempts,
		)
		b.finish()
		return
	}

	b.inFlight.Add(1)
	start := time.Now()
	err := b.invoke(item.Message)
	b.inFlight.Add(-1)
	b.opts.metrics.ObserveAttempt(time.Since(start), err == nil)

	if err == nil {
		b.succeeded.Add(1)
		b.opts.metrics.AddCompleted(1)
		b.opts.logger.Debug("completed",
			"block", b.opts.name,
			"item", item.Message,
			"attempts", item.Attempts,
		)
		b.finish()
		return
	}

	// Cancellation is shutdown, not an application error
	if b.ctx.Err() != nil {
		b.opts.logger.Debug("retry block cancelled during attempt",
			"block", b.opts.name,
			"item", item.Message,
			"attempt", item.Attempts,
		)
		b.finish()
		return
	}

	b.opts.logger.Error("error while trying to retry",
		"block", b.opts.name,
		"item", item.Message,
		"attempt", item.Attempts,
		"error", &AttemptError{Block: b.opts.name, Attempt: item.Attempts, Err: err},
	)

	if item.Attempts < b.opts.maximumAttempts {
		b.retried.Add(1)
		b.opts.metrics.AddRetries(1)
		b.requeue(item)
		return
	}

	b.discard(item, err)
}

// invoke calls the handler, turning a panic into an error
func (b *RetryBlock[T]) invoke(message T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return b.handler.Execute(b.ctx, message)
}

// pause waits for d or until the block is cancelled
func (b *RetryBlock[T]) pause(d time.Duration) error {
	if d <= 0 {
		return b.ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-b.ctx.Done():
		return b.ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *RetryBlock[T]) requeue(item Item[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx.Err() != nil {
		b.finishLocked()
		return
	}
	b.enqueueLocked(item)
}

func (b *RetryBlock[T]) discard(item Item[T], lastErr error) {
	b.discarded.Add(1)
	b.opts.metrics.AddDiscarded(1)
	b.opts.logger.Info("discarding message after exhausting attempts",
		"block", b.opts.name,
		"message", item.Message,
		"attempts", item.Attempts,
	)

	if b.opts.onDiscard != nil {
		b.opts.onDiscard(DiscardedItem{
			Block:     b.opts.name,
			Message:   item.Message,
			Attempts:  item.Attempts,
			LastError: lastErr,
		})
	}

	b.finish()
}

func (b *RetryBlock[T]) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishLocked()
}

// finishLocked retires one pending item. Caller holds b.mu.
func (b *RetryBlock[T]) finishLocked() {
	b.pending--
	if b.completed && b.pending == 0 {
		b.cond.Broadcast()
	}
}
