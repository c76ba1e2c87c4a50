package aegisfleet

import (
	"errors"
	"testing"
	"time"
)

func TestNewCallbackSink(t *testing.T) {
	var received []*Collection
	sink := NewCallbackSink("cb", func(batch []*Collection) error {
		received = append(received, batch...)
		return nil
	})

	input := &Collection{
		TriggerTime: time.Unix(1, 0),
		EventID:     42,
		Signals:     []CollectedSignal{{SignalID: 3, Value: DoubleValue(3.14)}},
	}

	if err := sink.WriteBatch([]*Collection{input}); err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 batch entry, got %d", len(received))
	}
	if received[0].EventID != 42 || received[0].Signals[0].SignalID != 3 {
		t.Fatalf("mismatched collection payload: %+v", received[0])
	}
	if sink.Name() != "cb" {
		t.Fatalf("unexpected sink name %q", sink.Name())
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if err := sink.WriteBatch([]*Collection{{}}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %q", sink.Name())
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	input := &Collection{EventID: 7}
	errCh := make(chan error, 1)

	go func() {
		errCh <- sink.WriteBatch([]*Collection{input})
	}()

	var batch []*Collection
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(batch) != 1 || batch[0].EventID != 7 {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	closeFn()
	if err := sink.WriteBatch([]*Collection{input}); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestChannelSinkCloseUnblocksWriter(t *testing.T) {
	sink, _, closeFn := NewChannelSink("", 0)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.WriteBatch([]*Collection{{}})
	}()
	time.Sleep(10 * time.Millisecond)
	closeFn()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writer stayed blocked after close")
	}
}
