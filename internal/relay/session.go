package relay

import (
	"sync"
	"time"
)

// Session - state of one client connection
type Session struct {
	ID string

	mu       sync.Mutex
	selected string
	moving   map[string]move // address => active move
	seq      uint64
}

type move struct {
	id       uint64
	deadline time.Time
}

func NewSession(id string) *Session {
	return &Session{ID: id, moving: map[string]move{}}
}

func (s *Session) Select(address string) {
	s.mu.Lock()
	s.selected = address
	s.mu.Unlock()
}

// Selected - address of last successful connect
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// StartMove marks device as moving until deadline. Returns move id for
// CancelMove and false if device is already moving.
func (s *Session) StartMove(address string, deadline time.Time) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.moving[address]; ok && time.Now().Before(m.deadline) {
		return 0, false
	}

	s.seq++
	s.moving[address] = move{id: s.seq, deadline: deadline}
	return s.seq, true
}

// CancelMove clears guard only if it still belongs to move id
func (s *Session) CancelMove(address string, id uint64) {
	s.mu.Lock()
	if m, ok := s.moving[address]; ok && m.id == id {
		delete(s.moving, address)
	}
	s.mu.Unlock()
}

func (s *Session) StopMove(address string) {
	s.mu.Lock()
	delete(s.moving, address)
	s.mu.Unlock()
}

func (s *Session) Moving(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.moving[address]
	return ok && time.Now().Before(m.deadline)
}
