// Package typing tracks who is currently typing. Each name expires on its own
// timer a fixed time after its last refresh.
package typing

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultExpiry is how long a name stays listed after its last refresh.
const DefaultExpiry = 3 * time.Second

// Set is a concurrency-safe set of typing display names.
type Set struct {
	mu       sync.Mutex
	expiry   time.Duration
	timers   map[string]entry
	gen      uint64
	onChange func()
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// NewSet creates an empty Set. onChange, if non-nil, is called (without the
// lock held) whenever a name is added or removed.
func NewSet(expiry time.Duration, onChange func()) *Set {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Set{
		expiry:   expiry,
		timers:   make(map[string]entry),
		onChange: onChange,
	}
}

// Touch adds name or restarts its expiry timer.
func (s *Set) Touch(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	old, existed := s.timers[name]
	if existed {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[name] = entry{
		timer: time.AfterFunc(s.expiry, func() { s.expire(name, gen) }),
		gen:   gen,
	}
	s.mu.Unlock()

	if !existed {
		s.changed()
	}
}

// Remove drops name immediately.
func (s *Set) Remove(name string) {
	s.mu.Lock()
	e, ok := s.timers[name]
	if ok {
		e.timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	if ok {
		s.changed()
	}
}

// expire removes name if gen is still its latest refresh.
func (s *Set) expire(name string, gen uint64) {
	s.mu.Lock()
	current, ok := s.timers[name]
	if !ok || current.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	s.mu.Unlock()
	s.changed()
}

// Names returns the current names in sorted order.
func (s *Set) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// Stop cancels every pending timer and clears the set.
func (s *Set) Stop() {
	s.mu.Lock()
	for name, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()
}

func (s *Set) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Format renders names as an indicator line, or "" when nobody is typing.
func Format(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		return strings.Join(names, ", ") + " are typing..."
	}
}
