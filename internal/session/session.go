// Package session keeps the recent question/answer pairs of the process.
package session

import (
	"sync"
	"time"

	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/retrieval"
)

type Entry struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Sources   []retrieval.Chunk `json:"sources"`
	Timestamp time.Time         `json:"timestamp"`
}

// Cache - Fixed capacity ring buffer. Once full, each Record overwrites the oldest entry.
type Cache struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	size    int
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = constants.SessionCapacity
	}
	return &Cache{entries: make([]Entry, capacity)}
}

func (c *Cache) Record(question, answer string, sources []retrieval.Chunk) {
	c.RecordEntry(Entry{Question: question, Answer: answer, Sources: sources, Timestamp: time.Now()})
}

func (c *Cache) RecordEntry(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.next] = e
	c.next = (c.next + 1) % len(c.entries)
	if c.size < len(c.entries) {
		c.size++
	}
}

// Recent - Up to n entries, most recent first.
func (c *Cache) Recent(n int) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n = min(n, c.size)
	if n <= 0 {
		return []Entry{}
	}
	out := make([]Entry, n)
	for i := range out {
		idx := (c.next - 1 - i + len(c.entries)) % len(c.entries)
		out[i] = c.entries[idx]
	}
	return out
}

func (c *Cache) Last() (Entry, bool) {
	recent := c.Recent(1)
	if len(recent) == 0 {
		return Entry{}, false
	}
	return recent[0], true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *Cache) Cap() int {
	return len(c.entries)
}
