package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeStreamList(t *testing.T, path string, urls []string) {
	t.Helper()
	data, err := json.Marshal(urls)
	if err != nil {
		t.Fatalf("marshal stream list: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write stream list: %v", err)
	}
}

func TestLoadStreamListParsesJSONArray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.json")
	writeStreamList(t, path, []string{"clsp://sfs/a", "clsp://sfs/b"})

	urls, err := loadStreamList(path)
	if err != nil {
		t.Fatalf("loadStreamList: %v", err)
	}
	if len(urls) != 2 || urls[0] != "clsp://sfs/a" || urls[1] != "clsp://sfs/b" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestWatchStreamConfigReconcilesOnEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.json")
	writeStreamList(t, path, []string{"clsp://sfs/a"})

	h := newTestHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop, err := watchStreamConfig(ctx, path, h, discardLogger())
	if err != nil {
		t.Fatalf("watchStreamConfig: %v", err)
	}
	defer stop()

	if h.streamCount() != 1 {
		t.Fatalf("expected initial load to create one session, got %d", h.streamCount())
	}

	writeStreamList(t, path, []string{"clsp://sfs/a", "clsp://sfs/b"})

	deadline := time.After(2 * time.Second)
	for h.streamCount() != 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for config reload to add the second stream")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
