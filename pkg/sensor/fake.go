package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ericogr/hx711-scale/pkg/config"
)

const (
	fakeBase      = 8300000.0
	fakeVariation = 50000.0
	fakePeriod    = 20 * time.Second
)

// FakeSensor produces raw counts around 8300000 with a slow sine swing and
// uniform noise, like the mock reader used on machines without GPIO.
type FakeSensor struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	start  time.Time
	now    func() time.Time
	invert bool
}

func NewFakeSensor(cfg config.Config) (Sensor, error) {
	return newFakeSensor(time.Now().UnixNano(), cfg.InvertPolarity), nil
}

func newFakeSensor(seed int64, invert bool) *FakeSensor {
	return &FakeSensor{
		rnd:    rand.New(rand.NewSource(seed)),
		start:  time.Now(),
		now:    time.Now,
		invert: invert,
	}
}

func (f *FakeSensor) Read() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	elapsed := now.Sub(f.start)
	phase := float64(elapsed%fakePeriod) / float64(fakePeriod)
	cyclic := math.Sin(phase*2*math.Pi) * fakeVariation * 0.5
	if f.invert {
		cyclic = -cyclic
	}
	noise := (f.rnd.Float64()*2 - 1) * fakeVariation * 0.2
	return Reading{Raw: fakeBase + cyclic + noise, Timestamp: now}, nil
}

func (f *FakeSensor) Close() error { return nil }
