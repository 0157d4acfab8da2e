package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process fallback. Windows are swept periodically so
// idle keys do not accumulate.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	hits   []time.Time
	length time.Duration
}

// NewMemoryLimiter starts the sweeper when sweepInterval is positive. Call
// Close to stop it.
func NewMemoryLimiter(sweepInterval time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go l.sweepEvery(sweepInterval)
	}
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, length time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	w.length = length
	w.prune(now)

	res := Result{Limit: limit}
	if len(w.hits) < limit {
		w.hits = append(w.hits, now)
		res.Allowed = true
	}
	res.Remaining = max(limit-len(w.hits), 0)
	if len(w.hits) > 0 {
		res.ResetAt = w.hits[0].Add(length)
	} else {
		res.ResetAt = now.Add(length)
	}
	return res, nil
}

// prune drops hits that are a full window old or older.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	w.hits = w.hits[i:]
}

// Sweep removes windows with no live hits.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, w := range l.windows {
		w.prune(now)
		if len(w.hits) == 0 {
			delete(l.windows, key)
		}
	}
}

func (l *MemoryLimiter) sweepEvery(d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
