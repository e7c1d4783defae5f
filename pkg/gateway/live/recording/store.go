package recording

import "sync"

// Store keeps recordings addressable by session id so the analysis
// collaborator can fetch them after the session ends. It holds at most limit
// recordings; when full, the oldest frozen recording is evicted first, and
// only if none is frozen does the oldest live one go.
type Store struct {
	mu    sync.Mutex
	limit int
	byID  map[string]*Buffer
	order []string
}

// NewStore returns a store bounded to limit recordings. A non-positive limit
// disables the bound.
func NewStore(limit int) *Store {
	return &Store{
		limit: limit,
		byID:  make(map[string]*Buffer),
	}
}

// Add registers a session's buffer, evicting if the store is full. Adding an
// id twice replaces the earlier buffer.
func (s *Store) Add(id string, buf *Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[id]; exists {
		s.byID[id] = buf
		return
	}
	if s.limit > 0 && len(s.order) >= s.limit {
		s.evictLocked()
	}
	s.byID[id] = buf
	s.order = append(s.order, id)
}

// Get returns the buffer for a session id.
func (s *Store) Get(id string) (*Buffer, bool) {
	s.mu.Lock()
	buf, ok := s.byID[id]
	s.mu.Unlock()
	return buf, ok
}

// Len reports how many recordings the store holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Store) evictLocked() {
	evict := -1
	for i, id := range s.order {
		if s.byID[id].Frozen() {
			evict = i
			break
		}
	}
	if evict == -1 {
		evict = 0
	}
	delete(s.byID, s.order[evict])
	s.order = append(s.order[:evict], s.order[evict+1:]...)
}
