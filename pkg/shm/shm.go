// Package shm implements the single-slot weight channel shared between the
// reader process and a consumer through a POSIX shared memory object.
//
// Layout (16 bytes, the size of {double; bool} with natural alignment):
//
//	[0:8]   weight, IEEE-754 float64 bits
//	[8:12]  ready word; its low byte is the legacy bool flag
//	[12:16] sequence counter (seqlock), stored in what used to be padding
//
// The producer is the only writer of weight and sequence and the only setter of
// ready. Consumers only clear ready. All fields are read and written with
// atomic word operations so a sample is never torn and is delivered at most once.
package shm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	DefaultName = "/weight_shm"
	DefaultDir  = "/dev/shm"

	// Size is the exact mapping length.
	Size = 16

	offWeight = 0
	offReady  = 8
	offSeq    = 12

	seqlockSpins = 1000
)

var (
	// ErrNotExist is returned when a consumer opens a segment nobody created.
	ErrNotExist = errors.New("shm: segment does not exist")
	// ErrUnsupported is returned on platforms without POSIX shared memory.
	ErrUnsupported = errors.New("shm: not supported on this platform")
)

// Options names the segment and controls consumer-side open retries.
type Options struct {
	Name string // POSIX object name, e.g. "/weight_shm"
	Dir  string // directory backing POSIX shm objects; defaults to /dev/shm

	// Retry keeps retrying a consumer open for this long while the segment
	// does not exist. Zero fails on the first attempt.
	Retry         time.Duration
	RetryInterval time.Duration
}

func (o Options) path() (string, error) {
	name := o.Name
	if name == "" {
		name = DefaultName
	}
	trimmed := strings.TrimPrefix(name, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("shm: invalid object name %q", name)
	}
	dir := o.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, trimmed), nil
}

// view gives atomic access to the three words of a mapping.
type view struct {
	weight *uint64
	ready  *uint32
	seq    *uint32
}

func newView(mem []byte) (view, error) {
	if len(mem) < Size {
		return view{}, fmt.Errorf("shm: mapping too small: %d bytes", len(mem))
	}
	base := unsafe.Pointer(&mem[0])
	if uintptr(base)%8 != 0 {
		return view{}, errors.New("shm: mapping is not 8-byte aligned")
	}
	return view{
		weight: (*uint64)(unsafe.Add(base, offWeight)),
		ready:  (*uint32)(unsafe.Add(base, offReady)),
		seq:    (*uint32)(unsafe.Add(base, offSeq)),
	}, nil
}

// Writer is the producer end. It owns the segment: it creates it and
// removes it on Close.
type Writer struct {
	seg *segment
	v   view
}

// CreateWriter creates (or reuses) the named segment sized to the layout.
func CreateWriter(opts Options) (*Writer, error) {
	p, err := opts.path()
	if err != nil {
		return nil, err
	}
	seg, err := openSegment(p, true)
	if err != nil {
		return nil, err
	}
	v, err := newView(seg.mem)
	if err != nil {
		_ = seg.close(true)
		return nil, err
	}
	reclaim(v)
	return &Writer{seg: seg, v: v}, nil
}

// reclaim readies a segment left behind by a producer that was killed. An odd
// sequence (killed mid-write) is rounded up so readers stop waiting on it; it
// never goes backwards, so a reader's last seen sequence cannot match a fresh
// write. The orphaned sample is dropped.
func reclaim(v view) {
	atomic.StoreUint32(v.ready, 0)
	if s := atomic.LoadUint32(v.seq); s&1 == 1 {
		if atomic.AddUint32(v.seq, 1) == 0 {
			atomic.AddUint32(v.seq, 2)
		}
	}
}

// Write stores value and raises ready, overwriting any unread sample.
func (w *Writer) Write(value float64) {
	write(w.v, value)
}

func write(v view, value float64) {
	atomic.AddUint32(v.seq, 1)
	atomic.StoreUint64(v.weight, math.Float64bits(value))
	if atomic.AddUint32(v.seq, 1) == 0 {
		// zero marks an unversioned producer, skip it on wrap
		atomic.AddUint32(v.seq, 2)
	}
	atomic.StoreUint32(v.ready, 1)
}

// Path returns the filesystem path backing the segment.
func (w *Writer) Path() string { return w.seg.path }

// Close unmaps and unlinks the segment.
func (w *Writer) Close() error {
	return w.seg.close(true)
}

// Reader is the consumer end. It never creates the segment.
type Reader struct {
	seg *segment
	v   view

	lastSeq   uint32
	delivered bool
}

// OpenReader maps an existing segment. With opts.Retry set it keeps trying
// while the segment is missing, otherwise a missing segment fails at once.
func OpenReader(ctx context.Context, opts Options) (*Reader, error) {
	p, err := opts.path()
	if err != nil {
		return nil, err
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(opts.Retry)
	for {
		seg, err := openSegment(p, false)
		if err == nil {
			v, verr := newView(seg.mem)
			if verr != nil {
				_ = seg.close(false)
				return nil, verr
			}
			return &Reader{seg: seg, v: v}, nil
		}
		if !errors.Is(err, ErrNotExist) || opts.Retry <= 0 || time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Poll consumes the pending sample. ok is false when nothing new was written
// since the last successful Poll by any consumer.
func (r *Reader) Poll() (value float64, ok bool) {
	return r.poll()
}

func (r *Reader) poll() (float64, bool) {
	if atomic.SwapUint32(r.v.ready, 0) == 0 {
		return 0, false
	}
	for i := 0; i < seqlockSpins; i++ {
		s1 := atomic.LoadUint32(r.v.seq)
		if s1&1 == 1 {
			runtime.Gosched()
			continue
		}
		bits := atomic.LoadUint64(r.v.weight)
		if atomic.LoadUint32(r.v.seq) != s1 {
			continue
		}
		// seq 0 means a producer that does not version its writes
		if s1 != 0 && r.delivered && s1 == r.lastSeq {
			return 0, false
		}
		r.lastSeq, r.delivered = s1, true
		return math.Float64frombits(bits), true
	}
	// producer stalled mid-write; leave the flag for the next poll
	atomic.StoreUint32(r.v.ready, 1)
	return 0, false
}

// Peek returns whatever sits in the segment without consuming it. A fresh
// attach may observe a stale weight; 0.0 is not distinguishable from empty.
func (r *Reader) Peek() (value float64, ready bool) {
	return math.Float64frombits(atomic.LoadUint64(r.v.weight)), atomic.LoadUint32(r.v.ready)&0xFF != 0
}

// Path returns the filesystem path backing the segment.
func (r *Reader) Path() string { return r.seg.path }

// Close unmaps the segment; it stays in place for the producer.
func (r *Reader) Close() error {
	return r.seg.close(false)
}
