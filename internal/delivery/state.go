package delivery

import (
	"sync"
	"time"

	"schedbot/internal/eventbus"
	logx "schedbot/pkg/logx"
)

// State owns the channel registry and the pending-delivery store behind a
// single mutex. It is constructed at startup from the persisted snapshot
// and flushed on every mutation.
type State struct {
	mu  sync.Mutex
	log logx.Logger
	bus eventbus.Bus

	snap *snapshot // nil disables persistence (tests)
	now  func() time.Time

	channels  map[string]string // lowercased name -> destination id
	chanOrder []string

	deliveries map[string]*Delivery
	delOrder   []string

	// issued remembers every delivery id ever handed out, including
	// retired ones, so an id is never reused within a store lifetime.
	issued map[string]struct{}

	Channels   *Registry
	Deliveries *Store
}

type Option func(*State)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *State) { s.bus = bus }
}

// NewState creates the state backed by snapshot files under dir.
// An empty dir disables persistence.
func NewState(dir string, log logx.Logger, opts ...Option) *State {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &State{
		log:        log,
		now:        time.Now,
		channels:   map[string]string{},
		deliveries: map[string]*Delivery{},
		issued:     map[string]struct{}{},
	}
	if dir != "" {
		s.snap = newSnapshot(dir)
	}
	for _, o := range opts {
		o(s)
	}
	s.Channels = &Registry{st: s}
	s.Deliveries = &Store{st: s}
	return s
}

// Load reads the persisted snapshot. A missing or corrupt snapshot
// degrades to an empty state with a warning; the process never refuses
// to start over bad data.
func (s *State) Load() {
	if s.snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chans, err := s.snap.loadChannels()
	if err != nil {
		s.log.Warn("channel snapshot unreadable; starting empty", logx.Err(err))
	} else {
		for _, c := range chans {
			if _, dup := s.channels[c.Name]; dup {
				continue
			}
			s.channels[c.Name] = c.DestinationID
			s.chanOrder = append(s.chanOrder, c.Name)
		}
	}

	dels, err := s.snap.loadDeliveries()
	if err != nil {
		s.log.Warn("delivery snapshot unreadable; starting empty", logx.Err(err))
		return
	}
	for i := range dels {
		d := dels[i]
		if d.ID == "" {
			continue
		}
		if _, dup := s.deliveries[d.ID]; dup {
			continue
		}
		cp := d
		s.deliveries[d.ID] = &cp
		s.delOrder = append(s.delOrder, d.ID)
		s.issued[d.ID] = struct{}{}
	}
	s.log.Info("snapshot loaded",
		logx.Int("channels", len(s.chanOrder)),
		logx.Int("deliveries", len(s.delOrder)))
}

// Flush rewrites the snapshot from current state. Used at shutdown.
func (s *State) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

// persistLocked rewrites both snapshot files. Write failures are logged,
// never propagated: the in-memory mutation has already happened and the
// operator was told it succeeded (known weak point, documented in the
// package comment).
func (s *State) persistLocked() {
	if s.snap == nil {
		return
	}
	if err := s.snap.saveChannels(s.channelsLocked()); err != nil {
		s.log.Warn("channel snapshot write failed", logx.Err(err))
	}
	if err := s.snap.saveDeliveries(s.deliveriesLocked()); err != nil {
		s.log.Warn("delivery snapshot write failed", logx.Err(err))
	}
}

func (s *State) channelsLocked() []Channel {
	out := make([]Channel, 0, len(s.chanOrder))
	for _, name := range s.chanOrder {
		out = append(out, Channel{Name: name, DestinationID: s.channels[name]})
	}
	return out
}

func (s *State) deliveriesLocked() []Delivery {
	out := make([]Delivery, 0, len(s.delOrder))
	for _, id := range s.delOrder {
		if d, ok := s.deliveries[id]; ok {
			out = append(out, *d)
		}
	}
	return out
}

func (s *State) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
