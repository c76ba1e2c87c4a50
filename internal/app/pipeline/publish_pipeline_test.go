package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisFleet/internal/adapters/queue"
	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

type fakeSink struct {
	mu      sync.Mutex
	fail    bool
	reject  map[domain.EventID]bool
	batches [][]*domain.TriggeredCollectionSchemeData
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) WriteBatch(b []*domain.TriggeredCollectionSchemeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink offline")
	}
	var (
		delivered []*domain.TriggeredCollectionSchemeData
		failed    []int
	)
	for i, d := range b {
		if s.reject[d.EventID] {
			failed = append(failed, i)
			continue
		}
		delivered = append(delivered, d)
	}
	s.batches = append(s.batches, delivered)
	if len(failed) > 0 {
		return &ports.BatchError{Failed: failed, Err: errors.New("rejected")}
	}
	return nil
}

func (s *fakeSink) setReject(ids ...domain.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = map[domain.EventID]bool{}
	for _, id := range ids {
		s.reject[id] = true
	}
}

func (s *fakeSink) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *fakeSink) events() []domain.EventID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.EventID
	for _, b := range s.batches {
		for _, d := range b {
			ids = append(ids, d.EventID)
		}
	}
	return ids
}

type memWAL struct {
	entries   []*domain.TriggeredCollectionSchemeData
	committed ports.WALEntryID
}

func (w *memWAL) Append(d *domain.TriggeredCollectionSchemeData) (ports.WALEntryID, error) {
	w.entries = append(w.entries, d)
	return ports.WALEntryID(len(w.entries)), nil
}

func (w *memWAL) Iterate(from ports.WALEntryID, fn func(ports.WALEntryID, *domain.TriggeredCollectionSchemeData) error) error {
	for i, d := range w.entries {
		id := ports.WALEntryID(i + 1)
		if id < from {
			continue
		}
		if err := fn(id, d); err != nil {
			return err
		}
	}
	return nil
}

func (w *memWAL) Commit(upto ports.WALEntryID) error {
	w.committed = upto
	return nil
}

func (w *memWAL) TruncateCommitted() error { return nil }

func (w *memWAL) Stats() ports.WALStats {
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    ports.WALEntryID(len(w.entries)),
		SizeBytes:         int64(len(w.entries)-int(w.committed)) * 100,
	}
}

func triggered(id domain.EventID, persist bool) *domain.TriggeredCollectionSchemeData {
	return &domain.TriggeredCollectionSchemeData{
		EventID:     id,
		TriggerTime: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		Metadata:    domain.PassThroughMetadata{CollectionSchemeID: "s", Persist: persist},
	}
}

func TestPublishOnceBatches(t *testing.T) {
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](10)
	for i := 1; i <= 5; i++ {
		out.Push(triggered(domain.EventID(i), false))
	}
	sink := &fakeSink{}
	obs := &mockObs{}
	p := NewPublisher(out, nil, sink, ports.Policy{MaxBatchSize: 2}, obs)

	assert.Equal(t, 2, p.PublishOnce(context.Background()))
	assert.Equal(t, 2, p.PublishOnce(context.Background()))
	assert.Equal(t, 1, p.PublishOnce(context.Background()))
	assert.Equal(t, 0, p.PublishOnce(context.Background()))

	assert.Equal(t, []domain.EventID{1, 2, 3, 4, 5}, sink.events())
	assert.Equal(t, 5.0, obs.counter("aegis_collections_published_total"))
}

func TestFailedBatchSpoolsPersistentCollections(t *testing.T) {
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](10)
	out.Push(triggered(1, true))
	out.Push(triggered(2, false))
	out.Push(triggered(3, true))

	sink := &fakeSink{fail: true}
	wal := &memWAL{}
	obs := &mockObs{}
	p := NewPublisher(out, wal, sink, ports.Policy{RetryInterval: time.Nanosecond}, obs)

	require.Equal(t, 3, p.PublishOnce(context.Background()))
	require.Len(t, wal.entries, 2)
	require.Len(t, obs.dlq, 1)
	assert.Equal(t, domain.EventID(2), obs.dlq[0].EventID)

	// still failing: nothing committed
	time.Sleep(time.Millisecond)
	_, err := p.Replay()
	require.Error(t, err)
	assert.Equal(t, ports.WALEntryID(0), wal.committed)

	sink.setFail(false)
	time.Sleep(time.Millisecond)
	n, err := p.Replay()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ports.WALEntryID(2), wal.committed)
	assert.Equal(t, []domain.EventID{1, 3}, sink.events())
	assert.Equal(t, 2.0, obs.counter("aegis_wal_replayed_total"))

	n, err = p.Replay()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPartialFailureSpoolsOnlyFailedCollections(t *testing.T) {
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](10)
	for i := 1; i <= 3; i++ {
		out.Push(triggered(domain.EventID(i), true))
	}
	sink := &fakeSink{}
	sink.setReject(2)
	wal := &memWAL{}
	obs := &mockObs{}
	p := NewPublisher(out, wal, sink, ports.Policy{RetryInterval: time.Nanosecond}, obs)

	require.Equal(t, 3, p.PublishOnce(context.Background()))
	require.Len(t, wal.entries, 1)
	assert.Equal(t, domain.EventID(2), wal.entries[0].EventID)
	assert.Equal(t, 2.0, obs.counter("aegis_collections_published_total"))

	sink.setReject()
	time.Sleep(time.Millisecond)
	n, err := p.Replay()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []domain.EventID{1, 3, 2}, sink.events())
}

func TestReplayCommitsEntriesBeforeFirstFailure(t *testing.T) {
	wal := &memWAL{}
	for i := 1; i <= 3; i++ {
		_, _ = wal.Append(triggered(domain.EventID(i), true))
	}
	sink := &fakeSink{}
	sink.setReject(2)
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](1)
	p := NewPublisher(out, wal, sink, ports.Policy{RetryInterval: time.Nanosecond}, &mockObs{})

	n, err := p.Replay()
	var be *ports.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []int{1}, be.Failed)
	assert.Equal(t, 1, n)
	assert.Equal(t, ports.WALEntryID(1), wal.committed)

	sink.setReject()
	time.Sleep(time.Millisecond)
	n, err = p.Replay()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ports.WALEntryID(3), wal.committed)
}

func TestReplayWaitsForRetryInterval(t *testing.T) {
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](1)
	out.Push(triggered(1, true))
	sink := &fakeSink{fail: true}
	wal := &memWAL{}
	p := NewPublisher(out, wal, sink, ports.Policy{RetryInterval: time.Hour}, &mockObs{})

	p.PublishOnce(context.Background())
	sink.setFail(false)
	n, err := p.Replay()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.events())
}

func TestReplayHonoursBatchSize(t *testing.T) {
	wal := &memWAL{}
	for i := 1; i <= 3; i++ {
		_, _ = wal.Append(triggered(domain.EventID(i), true))
	}
	sink := &fakeSink{}
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](1)
	p := NewPublisher(out, wal, sink, ports.Policy{MaxBatchSize: 2}, &mockObs{})

	n, err := p.Replay()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = p.Replay()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []domain.EventID{1, 2, 3}, sink.events())
}

func TestRunDrainsOnShutdown(t *testing.T) {
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](10)
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunPublishPipeline(ctx, out, nil, sink, ports.Policy{IdleSleep: time.Millisecond}, &mockObs{})
		close(done)
	}()

	out.Push(triggered(1, false))
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, 2*time.Second, time.Millisecond)

	out.Push(triggered(2, false))
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
	// the late collection is either published by the loop or by the final drain
	assert.Equal(t, []domain.EventID{1, 2}, sink.events())
}

func TestSpoolRecordsWALFull(t *testing.T) {
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](1)
	out.Push(triggered(1, true))
	wal := &fullWAL{}
	obs := &mockObs{}
	p := NewPublisher(out, wal, &fakeSink{fail: true}, ports.Policy{MaxWALSizeBytes: 10, OnWALFull: "drop"}, obs)

	p.PublishOnce(context.Background())
	require.Len(t, obs.dlq, 1)
	assert.Zero(t, wal.appends)
	require.Len(t, obs.dlqErrs, 1)
	assert.ErrorIs(t, obs.dlqErrs[0], ErrWALFull)
}

type fullWAL struct {
	memWAL
	appends int
}

func (w *fullWAL) Append(d *domain.TriggeredCollectionSchemeData) (ports.WALEntryID, error) {
	w.appends++
	return w.memWAL.Append(d)
}

func (w *fullWAL) Stats() ports.WALStats { return ports.WALStats{SizeBytes: 100} }
