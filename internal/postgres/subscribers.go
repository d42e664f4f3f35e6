package postgres

import "sync"

// subscribers is the fan-out registry behind the shared LISTEN connection:
// each owner can hold any number of change channels, and a notification for
// an owner signals all of them. Sends never block; a pending signal on a
// channel coalesces with the next one.
type subscribers struct {
	mu      sync.Mutex
	byOwner map[string]map[chan struct{}]struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{byOwner: make(map[string]map[chan struct{}]struct{})}
}

func (s *subscribers) add(owner string) chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.byOwner[owner]
	if !ok {
		set = make(map[chan struct{}]struct{})
		s.byOwner[owner] = set
	}
	set[ch] = struct{}{}
	return ch
}

// remove unregisters the channel. The caller may close it afterwards; no
// notify can reach it once remove returns.
func (s *subscribers) remove(owner string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.byOwner[owner]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(s.byOwner, owner)
	}
}

func (s *subscribers) notify(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.byOwner[owner] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
