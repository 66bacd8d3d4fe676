package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/stretchr/testify/assert"
)

type transitionLog struct {
	mu   sync.Mutex
	seen [][2]Quality
}

func (l *transitionLog) listen(previous, current Quality) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, [2]Quality{previous, current})
}

func (l *transitionLog) all() [][2]Quality {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]Quality(nil), l.seen...)
}

func TestDetectorTransitions(t *testing.T) {
	t.Parallel()

	var fail bool
	probe := func(context.Context) error {
		if fail {
			return errors.New("unreachable")
		}
		return nil
	}
	cfg := DefaultDetectorConfig()
	cfg.FailuresToOffline = 2
	d := NewDetector(probe, cfg, logging.NewNop())

	var log transitionLog
	unsubscribe := d.Subscribe(log.listen)

	assert.Equal(t, Fast, d.Check(context.Background()))

	fail = true
	assert.Equal(t, Fast, d.Check(context.Background()), "a single failure is tolerated")
	assert.Equal(t, Offline, d.Check(context.Background()))

	fail = false
	assert.Equal(t, Fast, d.Check(context.Background()))
	assert.Equal(t, [][2]Quality{{Fast, Offline}, {Offline, Fast}}, log.all())

	unsubscribe()
	fail = true
	d.Check(context.Background())
	d.Check(context.Background())
	assert.Len(t, log.all(), 2)
}

func TestDetectorSlowProbe(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectorConfig()
	cfg.FastThreshold = 5 * time.Millisecond
	d := NewDetector(func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}, cfg, logging.NewNop())

	assert.Equal(t, Slow, d.Check(context.Background()))
	assert.GreaterOrEqual(t, d.LastRoundTrip(), 20*time.Millisecond)
}

func TestStaticSource(t *testing.T) {
	t.Parallel()

	s := NewStatic(Fast)
	var log transitionLog
	s.Subscribe(log.listen)

	s.SetQuality(Fast)
	s.SetQuality(Offline)
	s.SetQuality(Slow)

	assert.Equal(t, Slow, s.Quality())
	assert.True(t, s.Quality().Online())
	assert.Equal(t, [][2]Quality{{Fast, Offline}, {Offline, Slow}}, log.all())
	assert.Equal(t, "offline", Offline.String())
}
