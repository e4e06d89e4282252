package camera

import "sync"

// Slot holds the most recent frame. Writers always overwrite and readers
// get whatever is there, without waiting.
type Slot struct {
	mu     sync.Mutex
	frame  Frame
	ok     bool
	writes uint64
	drops  uint64 // Frames overwritten before anyone read them
	read   bool
}

// Store publishes a frame, replacing the previous one.
func (s *Slot) Store(f Frame) {
	s.mu.Lock()
	if s.ok && !s.read {
		s.drops++
	}
	s.frame = f
	s.ok = true
	s.read = false
	s.writes++
	s.mu.Unlock()
}

// Load returns the latest frame, if any.
func (s *Slot) Load() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ok {
		s.read = true
	}
	return s.frame, s.ok
}

// Reset clears the slot.
func (s *Slot) Reset() {
	s.mu.Lock()
	s.frame = Frame{}
	s.ok = false
	s.read = false
	s.mu.Unlock()
}

// SlotStats is a point-in-time view of slot activity.
type SlotStats struct {
	Writes uint64 `json:"writes"`
	Drops  uint64 `json:"drops"`
}

// Stats returns write and drop counters.
func (s *Slot) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStats{Writes: s.writes, Drops: s.drops}
}
