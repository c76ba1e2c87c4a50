package aegisfleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	col := &stubCollector{}
	sink := &stubSink{}
	w := &stubWAL{}

	rt, err := flow.
		StreamIN(
			StreamInCollector(col),
			StreamInWAL(w),
			StreamInObservability(&stubObservability{}),
		).
		StreamOUT(
			StreamOutSink(sink),
			StreamOutListener(&recordingListener{}),
			StreamOutObservability(&stubObservability{}),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if rt.collector != col {
		t.Fatalf("expected custom collector to be wired")
	}
	if rt.sink != sink {
		t.Fatalf("expected custom sink to be wired")
	}
	if rt.wal != w {
		t.Fatalf("expected custom WAL to be wired")
	}
}

func TestFlowStreamOutTransportKeepsSender(t *testing.T) {
	flow, err := ConfFromConfig(testConfig(t), WithFlowOptions(WithWAL(&stubWAL{})))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	rt, err := flow.StreamOUT(
		StreamOutTransport(&recordingTransport{}),
		StreamOutObservability(&stubObservability{}),
	)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if rt.sink.Name() != "sender" {
		t.Fatalf("expected sender sink, got %s", rt.sink.Name())
	}
	if rt.ownedWAL != nil {
		t.Fatalf("expected flow option WAL to replace the file WAL")
	}
}

func TestConfLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	data := "wal:\n  dir: " + filepath.Join(dir, "wal") + "\npublish:\n  payload_dir: " + filepath.Join(dir, "out") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flow, err := Conf(path)
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}
	if flow.Config().Publish.Sink != "sender" {
		t.Fatalf("expected defaults to be applied, got sink %q", flow.Config().Publish.Sink)
	}
}

func TestFlowRunUsesStreamOutOptions(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := flow.StreamIN(
		StreamInCollector(&stubCollector{}),
		StreamInObservability(&stubObservability{}),
	).Run(ctx,
		StreamOutSink(&stubSink{}),
		StreamOutObservability(&stubObservability{}),
	); err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}

func TestNilFlow(t *testing.T) {
	var f *Flow
	if f.Config() != nil || f.StreamIN() != nil || f.Options() != nil {
		t.Fatalf("expected nil flow to stay nil")
	}
	if _, err := f.StreamOUT(); err == nil {
		t.Fatalf("expected error from nil flow")
	}
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error without config")
	}
}
