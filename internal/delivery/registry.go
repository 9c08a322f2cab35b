package delivery

import (
	"fmt"
	"strings"

	logx "schedbot/pkg/logx"
)

// Registry is the channel registry view of State.
type Registry struct {
	st *State
}

// Add registers a named destination. Names are canonicalized to lowercase.
func (r *Registry) Add(name, destinationID string) (Channel, error) {
	name = CanonicalName(name)
	destinationID = strings.TrimSpace(destinationID)
	if name == "" {
		return Channel{}, fmt.Errorf("channel name: %w", ErrInvalidName)
	}
	if !validDestination(destinationID) {
		return Channel{}, fmt.Errorf("%q: %w", destinationID, ErrInvalidDestination)
	}

	s := r.st
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[name]; exists {
		return Channel{}, fmt.Errorf("%q: %w", name, ErrDuplicateName)
	}
	s.channels[name] = destinationID
	s.chanOrder = append(s.chanOrder, name)
	s.persistLocked()

	s.log.Info("channel added", logx.String("channel", name), logx.String("dest", destinationID))
	return Channel{Name: name, DestinationID: destinationID}, nil
}

// Remove deletes a channel. A channel referenced by any pending delivery
// cannot be removed.
func (r *Registry) Remove(name string) error {
	name = CanonicalName(name)

	s := r.st
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[name]; !exists {
		return fmt.Errorf("%q: %w", name, ErrChannelNotFound)
	}
	for _, id := range s.delOrder {
		if d, ok := s.deliveries[id]; ok && d.ChannelName == name {
			return fmt.Errorf("%q: %w", name, ErrChannelInUse)
		}
	}

	delete(s.channels, name)
	for i, n := range s.chanOrder {
		if n == name {
			s.chanOrder = append(s.chanOrder[:i], s.chanOrder[i+1:]...)
			break
		}
	}
	s.persistLocked()

	s.log.Info("channel removed", logx.String("channel", name))
	return nil
}

// List returns all channels in insertion order.
func (r *Registry) List() []Channel {
	s := r.st
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelsLocked()
}

// Resolve maps a channel name to its destination id.
func (r *Registry) Resolve(name string) (string, error) {
	s := r.st
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.resolveLocked(name)
}

func (r *Registry) resolveLocked(name string) (string, error) {
	dest, ok := r.st.channels[CanonicalName(name)]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrChannelNotFound)
	}
	return dest, nil
}

// CanonicalName lowercases and trims a channel name.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func validDestination(dest string) bool {
	if !strings.HasPrefix(dest, DestinationPrefix) {
		return false
	}
	if len(dest) == len(DestinationPrefix) {
		return false
	}
	for _, c := range dest[len(DestinationPrefix):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
