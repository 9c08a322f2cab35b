package delivery

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"schedbot/internal/eventbus"
	logx "schedbot/pkg/logx"
)

// Store is the pending-delivery view of State.
type Store struct {
	st *State
}

// Create validates and records a new delivery. DueAt is fixed here as
// now+delay and never recomputed.
func (st *Store) Create(requesterChatID int64, channelName, text string, delay time.Duration) (Delivery, error) {
	if delay <= 0 {
		return Delivery{}, ErrInvalidDelay
	}
	if strings.TrimSpace(text) == "" {
		return Delivery{}, ErrEmptyText
	}
	// Character count, not bytes: multi-byte texts up to the cap are valid.
	if n := utf8.RuneCountInString(text); n > MaxTextLen {
		return Delivery{}, fmt.Errorf("%d chars (max %d): %w", n, MaxTextLen, ErrTextTooLong)
	}
	channelName = CanonicalName(channelName)

	s := st.st
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Channels.resolveLocked(channelName); err != nil {
		return Delivery{}, err
	}

	now := s.now()
	d := &Delivery{
		ID:              st.newIDLocked(now),
		RequesterChatID: requesterChatID,
		ChannelName:     channelName,
		Text:            text,
		DueAt:           now.Add(delay),
		CreatedAt:       now,
		Active:          true,
	}
	s.deliveries[d.ID] = d
	s.delOrder = append(s.delOrder, d.ID)
	s.persistLocked()

	s.log.Info("delivery scheduled",
		logx.String("id", d.ID),
		logx.String("channel", d.ChannelName),
		logx.Time("due_at", d.DueAt))
	s.publish(eventbus.TypeDeliveryCreated, *d)
	return *d, nil
}

// Get returns a copy of the delivery.
func (st *Store) Get(id string) (Delivery, error) {
	s := st.st
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return Delivery{}, fmt.Errorf("%q: %w", id, ErrDeliveryNotFound)
	}
	return *d, nil
}

// SetActive toggles the delivery without touching text or due time.
func (st *Store) SetActive(id string, active bool) error {
	s := st.st
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrDeliveryNotFound)
	}
	d.Active = active
	s.persistLocked()
	s.log.Info("delivery toggled", logx.String("id", id), logx.Bool("active", active))
	return nil
}

// Retire removes the delivery record permanently after a fire concluded
// it; the dispatcher announces the conclusion (sent/skipped/failed), so
// no event is published here. A second Retire for the same id reports
// ErrDeliveryNotFound, which callers racing a concurrent fire treat as
// "already concluded".
func (st *Store) Retire(id string) error {
	return st.remove(id)
}

// Delete removes an unfired delivery at the operator's request and
// publishes a deleted event.
func (st *Store) Delete(id string) error {
	if err := st.remove(id); err != nil {
		return err
	}
	s := st.st
	s.mu.Lock()
	s.publish(eventbus.TypeDeliveryDeleted, id)
	s.mu.Unlock()
	return nil
}

func (st *Store) remove(id string) error {
	s := st.st
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[id]; !ok {
		return fmt.Errorf("%q: %w", id, ErrDeliveryNotFound)
	}
	delete(s.deliveries, id)
	for i, x := range s.delOrder {
		if x == id {
			s.delOrder = append(s.delOrder[:i], s.delOrder[i+1:]...)
			break
		}
	}
	s.persistLocked()
	s.log.Debug("delivery removed", logx.String("id", id))
	return nil
}

// ListPending returns all deliveries in creation order.
func (st *Store) ListPending() []Delivery {
	s := st.st
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveriesLocked()
}

// newIDLocked produces ids like "msg_1735075200"; rapid creation within
// one second disambiguates with a "_2", "_3"... suffix so ids stay unique
// and generation-ordered. The issued set covers retired deliveries too, so
// a retire-then-create in the same second never reuses the old id.
func (st *Store) newIDLocked(now time.Time) string {
	base := fmt.Sprintf("msg_%d", now.Unix())
	id := base
	for n := 2; ; n++ {
		if _, taken := st.st.issued[id]; !taken {
			st.st.issued[id] = struct{}{}
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}
