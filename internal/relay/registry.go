package relay

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

func shardFor(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

// sessionSet is a set of sessions keyed by user or conversation ID.
type sessionSet map[string]map[*Session]struct{}

type shard struct {
	mu   sync.RWMutex
	sets sessionSet
}

// shardedSets spreads keys over independently locked shards so that
// unrelated users or conversations never contend.
type shardedSets struct {
	shards [shardCount]shard
}

func newShardedSets() *shardedSets {
	s := &shardedSets{}
	for i := range s.shards {
		s.shards[i].sets = make(sessionSet)
	}
	return s
}

// add inserts sess under key and reports whether it was the first.
func (s *shardedSets) add(key string, sess *Session) (first, added bool) {
	sh := &s.shards[shardFor(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set := sh.sets[key]
	if set == nil {
		set = make(map[*Session]struct{})
		sh.sets[key] = set
	}
	if _, ok := set[sess]; ok {
		return false, false
	}
	set[sess] = struct{}{}
	return len(set) == 1, true
}

// remove deletes sess from key and reports whether the set became empty.
func (s *shardedSets) remove(key string, sess *Session) (last, removed bool) {
	sh := &s.shards[shardFor(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set := sh.sets[key]
	if _, ok := set[sess]; !ok {
		return false, false
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(sh.sets, key)
		return true, true
	}
	return false, true
}

func (s *shardedSets) members(key string) []*Session {
	sh := &s.shards[shardFor(key)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	set := sh.sets[key]
	out := make([]*Session, 0, len(set))
	for sess := range set {
		out = append(out, sess)
	}
	return out
}

func (s *shardedSets) keys() []string {
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key := range sh.sets {
			out = append(out, key)
		}
		sh.mu.RUnlock()
	}
	return out
}

func (s *shardedSets) size(key string) int {
	sh := &s.shards[shardFor(key)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.sets[key])
}

// Registry maps users to their live sessions.
type Registry struct {
	sets *shardedSets
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: newShardedSets()}
}

// Register adds a session. first reports an OFFLINE to ONLINE transition.
func (r *Registry) Register(s *Session) (first bool) {
	first, _ = r.sets.add(s.UserID, s)
	return first
}

// Unregister removes a session. last reports an ONLINE to OFFLINE
// transition; removed is false when the session was not registered.
func (r *Registry) Unregister(s *Session) (last, removed bool) {
	return r.sets.remove(s.UserID, s)
}

// Sessions returns a snapshot of the user's sessions.
func (r *Registry) Sessions(userID string) []*Session {
	return r.sets.members(userID)
}

// Users returns the users with at least one session on this node.
func (r *Registry) Users() []string {
	return r.sets.keys()
}

// IsOnline reports whether the user has a session on this node.
func (r *Registry) IsOnline(userID string) bool {
	return r.sets.size(userID) > 0
}

// Groups maps conversations to the sessions receiving their events.
type Groups struct {
	sets *shardedSets
}

// NewGroups creates an empty group index.
func NewGroups() *Groups {
	return &Groups{sets: newShardedSets()}
}

// Join subscribes a session to a conversation. Closed sessions are ignored.
func (g *Groups) Join(conversationID string, s *Session) {
	if s.Closed() {
		return
	}
	if _, added := g.sets.add(conversationID, s); added {
		s.trackGroup(conversationID)
	}
	// Lost a race with Disconnect.
	if s.Closed() {
		g.Leave(conversationID, s)
	}
}

// Leave unsubscribes a session from a conversation.
func (g *Groups) Leave(conversationID string, s *Session) {
	if _, removed := g.sets.remove(conversationID, s); removed {
		s.untrackGroup(conversationID)
	}
}

// LeaveAll unsubscribes a session from every conversation it joined.
func (g *Groups) LeaveAll(s *Session) {
	for _, id := range s.joinedGroups() {
		g.Leave(id, s)
	}
}

// Members returns a snapshot of a conversation's sessions.
func (g *Groups) Members(conversationID string) []*Session {
	return g.sets.members(conversationID)
}
