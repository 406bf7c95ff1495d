//go:build linux || freebsd

package shm

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"testing"
	"time"
)

func TestReaderMissingSegment(t *testing.T) {
	_, err := OpenReader(context.Background(), Options{Name: "/missing", Dir: t.TempDir()})
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestWriterReaderAcrossMappings(t *testing.T) {
	opts := Options{Name: "/weight_test", Dir: t.TempDir()}
	w, err := CreateWriter(opts)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	defer w.Close()

	st, err := os.Stat(w.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != Size {
		t.Fatalf("segment size = %d; want %d", st.Size(), Size)
	}

	r, err := OpenReader(context.Background(), opts)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	for i := 1; i <= 5; i++ {
		w.Write(float64(i) * 1.5)
		got, ok := r.Poll()
		if !ok || got != float64(i)*1.5 {
			t.Fatalf("Poll %d = %v, %v", i, got, ok)
		}
		if _, ok := r.Poll(); ok {
			t.Fatalf("duplicate delivery %d", i)
		}
	}
}

func TestWriterCloseUnlinks(t *testing.T) {
	opts := Options{Name: "/weight_unlink", Dir: t.TempDir()}
	w, err := CreateWriter(opts)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	r, err := OpenReader(context.Background(), opts)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("reader close: %v", err)
	}
	if _, err := os.Stat(w.Path()); err != nil {
		t.Fatalf("reader close removed the segment: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer close: %v", err)
	}
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Fatalf("segment still present after writer close: %v", err)
	}
}

func TestReaderRetryWaitsForProducer(t *testing.T) {
	opts := Options{Name: "/weight_retry", Dir: t.TempDir(), Retry: 2 * time.Second, RetryInterval: 5 * time.Millisecond}
	created := make(chan *Writer, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		w, err := CreateWriter(opts)
		if err != nil {
			created <- nil
			return
		}
		created <- w
	}()
	r, err := OpenReader(context.Background(), opts)
	if err != nil {
		t.Fatalf("OpenReader with retry: %v", err)
	}
	r.Close()
	if w := <-created; w != nil {
		w.Close()
	} else {
		t.Fatalf("writer creation failed")
	}
}

func TestReaderRejectsShortSegment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/short", []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenReader(context.Background(), Options{Name: "/short", Dir: dir}); err == nil {
		t.Fatalf("expected error for undersized segment")
	}
}

func TestCreateWriterRecoversKilledProducer(t *testing.T) {
	dir := t.TempDir()
	// header of a producer killed between its two sequence increments
	stale := make([]byte, Size)
	binary.NativeEndian.PutUint64(stale[offWeight:], math.Float64bits(99.5))
	binary.NativeEndian.PutUint32(stale[offReady:], 1)
	binary.NativeEndian.PutUint32(stale[offSeq:], 7)
	if err := os.WriteFile(dir+"/weight_shm", stale, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	opts := Options{Name: "/weight_shm", Dir: dir}
	w, err := CreateWriter(opts)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	defer w.Close()
	r, err := OpenReader(context.Background(), opts)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if v, ok := r.Poll(); ok {
		t.Fatalf("orphaned sample %v delivered", v)
	}
	delivered := 0
	for i := 1; i <= 10; i++ {
		w.Write(float64(i))
		if got, ok := r.Poll(); ok && got == float64(i) {
			delivered++
		}
	}
	if delivered != 10 {
		t.Fatalf("delivered %d of 10 writes after restart", delivered)
	}
}
