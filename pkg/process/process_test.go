//go:build unix

package process

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reader.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStopTerminates(t *testing.T) {
	p, err := Start(context.Background(), quiet(), script(t, "exec sleep 30"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("process still running after Stop")
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	p, err := Start(context.Background(), quiet(), script(t, "trap '' TERM; while true; do sleep 0.05; done"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	if err := p.Stop(100 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("killed before grace elapsed")
	}
}

func TestExitReported(t *testing.T) {
	p, err := Start(context.Background(), quiet(), script(t, "echo failing >&2; exit 2"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("process did not exit")
	}
	if p.Err() == nil {
		t.Fatalf("expected exit error")
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop on exited process: %v", err)
	}
}
