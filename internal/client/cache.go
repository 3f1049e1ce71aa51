package client

import (
	"sync"
	"time"
)

// staleAfter is the grace period §4.3 gives a locally cached session that
// has dropped out of the Agent's authoritative sessions_list before the
// Client evicts it.
const staleAfter = 5 * time.Minute

// SessionInfo mirrors the wire shape of one entry in a sessions_list reply.
type SessionInfo struct {
	ID             string `json:"id"`
	ProjectID      string `json:"projectId"`
	WorkingDir     string `json:"workingDir"`
	Status         string `json:"status"`
	LastActivity   int64  `json:"lastActivity"`
	IsQuickSession bool   `json:"isQuickSession"`
}

type cacheEntry struct {
	info     SessionInfo
	lastSeen time.Time
}

// Cache holds this Client's non-authoritative view of agent connectivity
// and the session table (§4.3 — "No Client is authoritative over session
// state: the Agent's sessions_list is always the source of truth").
type Cache struct {
	mu             sync.Mutex
	sessions       map[string]cacheEntry
	agentConnected bool
}

func NewCache() *Cache {
	return &Cache{sessions: make(map[string]cacheEntry)}
}

func (c *Cache) SetAgentConnected(v bool) {
	c.mu.Lock()
	c.agentConnected = v
	c.mu.Unlock()
}

func (c *Cache) AgentConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentConnected
}

// UpdateSessions reconciles the cache against a fresh authoritative list.
// Entries absent from list are evicted only once they have gone unseen for
// longer than staleAfter, per §4.3.
func (c *Cache) UpdateSessions(list []SessionInfo, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(list))
	for _, s := range list {
		c.sessions[s.ID] = cacheEntry{info: s, lastSeen: now}
		seen[s.ID] = true
	}
	for id, entry := range c.sessions {
		if seen[id] {
			continue
		}
		if now.Sub(entry.lastSeen) > staleAfter {
			delete(c.sessions, id)
		}
	}
}

// Sessions returns a snapshot of every currently cached session.
func (c *Cache) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionInfo, 0, len(c.sessions))
	for _, entry := range c.sessions {
		out = append(out, entry.info)
	}
	return out
}

// ForProject returns the most recently seen cached session for a project,
// if any, for client attach's "resolve an existing session" step.
func (c *Cache) ForProject(projectID string) (SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best SessionInfo
	var bestSeen time.Time
	found := false
	for _, entry := range c.sessions {
		if entry.info.ProjectID != projectID {
			continue
		}
		if !found || entry.lastSeen.After(bestSeen) {
			best, bestSeen, found = entry.info, entry.lastSeen, true
		}
	}
	return best, found
}
