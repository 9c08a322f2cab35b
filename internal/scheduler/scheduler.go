// Package scheduler keeps exactly one armed one-shot timer per pending
// delivery and invokes the dispatcher when a delivery comes due.
//
// Timer handles live in the scheduler's own map, keyed by delivery id;
// the delivery record never holds its timer. Timers are runtime-only
// state: they are rebuilt from the durable store on startup, and a
// persisted delivery whose due time already passed fires immediately
// rather than being dropped.
//
// Disarm is best-effort: a timer past its fire threshold cannot be
// reliably cancelled, so the fire path must re-check the store before
// acting. A per-id version counter additionally drops callbacks from
// timers that were replaced by a later Arm.
package scheduler

import (
	"sync"
	"time"

	"schedbot/internal/delivery"
	logx "schedbot/pkg/logx"
)

// FireFunc is invoked (on the timer's goroutine) when a delivery is due.
type FireFunc func(id string)

type Service struct {
	log  logx.Logger
	fire FireFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	ver     map[string]uint64
	stopped bool

	now func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(log logx.Logger, fire FireFunc, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		fire:   fire,
		timers: map[string]*time.Timer{},
		ver:    map[string]uint64{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Arm schedules a one-shot fire at dueAt. Arming an id that is already
// armed replaces the previous timer (the version bump invalidates its
// callback if it is already in flight).
func (s *Service) Arm(id string, dueAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
	}
	ver := s.ver[id] + 1
	s.ver[id] = ver

	delay := dueAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fired(id, ver) })
	s.log.Debug("timer armed", logx.String("id", id), logx.Duration("in", delay))
}

func (s *Service) fired(id string, ver uint64) {
	s.mu.Lock()
	if s.stopped || s.ver[id] != ver {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	delete(s.ver, id)
	s.mu.Unlock()

	s.fire(id)
}

// Disarm cancels the timer for id if one is armed. Cancellation is
// best-effort; the fire path tolerates losing this race.
func (s *Service) Disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	delete(s.ver, id)
}

// Rebuild arms a timer for every pending delivery. Called once at startup
// after the store snapshot is loaded.
func (s *Service) Rebuild(pending []delivery.Delivery) {
	overdue := 0
	for _, d := range pending {
		if !d.DueAt.After(s.now()) {
			overdue++
		}
		s.Arm(d.ID, d.DueAt)
	}
	s.log.Info("timers rebuilt", logx.Int("armed", len(pending)), logx.Int("overdue", overdue))
}

// Armed reports how many timers are currently outstanding.
func (s *Service) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all timers. Arm becomes a no-op afterwards; in-flight fire
// callbacks are suppressed.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.ver = map[string]uint64{}
	s.log.Info("scheduler stopped")
}
