package store

import (
	"sync"

	"github.com/hearsay-labs/hearsay/internal/session"
)

// Cache is a bounded in-process mirror of persisted sessions. It is a
// fast-read path and the fallback when Postgres is unreachable; the database
// stays the source of truth.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*session.InterviewSession
	order   []string // insertion order for eviction
	max     int
}

func NewCache(max int) *Cache {
	if max <= 0 {
		max = 1024
	}
	return &Cache{
		entries: make(map[string]*session.InterviewSession),
		max:     max,
	}
}

// Get returns a deep copy so callers can mutate freely.
func (c *Cache) Get(id string) (*session.InterviewSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Put stores a deep copy, evicting the oldest entry past the bound.
func (c *Cache) Put(s *session.InterviewSession) {
	if s == nil || s.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[s.ID]; !exists {
		c.order = append(c.order, s.ID)
		for len(c.order) > c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[s.ID] = s.Clone()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
