package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nftLend/internal/model"
)

// Buffer collects pool events in memory and writes them to one or more
// sinks in batches. Each sink has its own queue, so a sink that fails is
// retried alone and the others never see a record twice. It satisfies
// pool.EventSink.
type Buffer struct {
	sinks     []Storage
	batchSize int
	logger    *zap.Logger

	mu     sync.Mutex
	queues [][]model.PoolEventRecord
	err    error
}

func NewBuffer(batchSize int, logger *zap.Logger, sinks ...Storage) *Buffer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		sinks:     sinks,
		batchSize: batchSize,
		logger:    logger,
		queues:    make([][]model.PoolEventRecord, len(sinks)),
	}
}

// Emit queues an event and flushes once a full batch is pending. Write
// failures are kept and returned by the next Flush.
func (b *Buffer) Emit(event model.PoolEvent) {
	record, err := event.Record()
	if err != nil {
		b.logger.Error("encode event", zap.String("event", event.EventName), zap.Error(err))
		b.mu.Lock()
		if b.err == nil {
			b.err = fmt.Errorf("encode event %s: %w", event.EventName, err)
		}
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.queues {
		b.queues[i] = append(b.queues[i], record)
	}
	if b.pendingLocked() >= b.batchSize {
		if err := b.flushLocked(); err != nil && b.err == nil {
			b.err = err
		}
	}
}

// Flush writes pending events and reports the first error seen since the
// previous Flush.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.flushLocked()
	if b.err != nil {
		err = b.err
		b.err = nil
	}
	return err
}

// Pending is the number of events not yet written to every sink.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingLocked()
}

func (b *Buffer) pendingLocked() int {
	n := 0
	for _, queue := range b.queues {
		if len(queue) > n {
			n = len(queue)
		}
	}
	return n
}

// flushLocked writes every non-empty queue to its sink. A failed sink keeps
// its queue; the first error is returned after all sinks were tried.
func (b *Buffer) flushLocked() error {
	var first error
	for i, sink := range b.sinks {
		batch := b.queues[i]
		if len(batch) == 0 {
			continue
		}
		if err := sink.PutEventBatch(batch); err != nil {
			b.logger.Error("write event batch", zap.Int("sink", i), zap.Int("events", len(batch)), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("sink %d: %w", i, err)
			}
			continue
		}
		b.queues[i] = nil
		b.logger.Debug("event batch written", zap.Int("sink", i), zap.Int("events", len(batch)))
	}
	return first
}
