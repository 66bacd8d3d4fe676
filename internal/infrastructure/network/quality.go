// Package network reports the quality of the connection to the remote API.
package network

import (
	"sync"
)

// Quality is the coarse network condition used to size timeouts.
type Quality int

const (
	Offline Quality = iota
	Slow
	Fast
)

func (q Quality) String() string {
	switch q {
	case Fast:
		return "fast"
	case Slow:
		return "slow"
	default:
		return "offline"
	}
}

// Online reports whether any request can be attempted.
func (q Quality) Online() bool { return q != Offline }

// Listener is notified when the quality changes.
type Listener func(previous, current Quality)

// Source provides the current network quality and change notifications.
type Source interface {
	Quality() Quality
	Subscribe(listener Listener) (unsubscribe func())
}

// listeners is the subscription registry shared by Detector and Static.
type listeners struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]Listener
}

func (l *listeners) add(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byID == nil {
		l.byID = make(map[int]Listener)
	}
	id := l.nextID
	l.nextID++
	l.byID[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.byID, id)
		l.mu.Unlock()
	}
}

func (l *listeners) notify(previous, current Quality) {
	l.mu.Lock()
	fns := make([]Listener, 0, len(l.byID))
	for _, fn := range l.byID {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(previous, current)
	}
}

// Static is a Source whose quality is set explicitly.
type Static struct {
	mu      sync.RWMutex
	quality Quality
	subs    listeners
}

// NewStatic creates a Static source at the given quality.
func NewStatic(q Quality) *Static {
	return &Static{quality: q}
}

func (s *Static) Quality() Quality {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quality
}

// SetQuality changes the quality and notifies subscribers on transitions.
func (s *Static) SetQuality(q Quality) {
	s.mu.Lock()
	previous := s.quality
	s.quality = q
	s.mu.Unlock()
	if previous != q {
		s.subs.notify(previous, q)
	}
}

func (s *Static) Subscribe(listener Listener) func() {
	return s.subs.add(listener)
}
