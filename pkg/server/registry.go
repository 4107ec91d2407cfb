package server

import (
	"errors"
	"sync"
)

// ErrUserTaken is returned by Register when the username already has a live
// session.
var ErrUserTaken = errors.New("username already in use")

// Registry is the process-wide directory of live sessions and group
// membership. One instance is constructed at server start and passed into
// every connection handler; it is the only structure mutated concurrently
// by multiple handlers, and each operation is a single atomic step under
// one lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	groups   map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		groups:   make(map[string]map[string]struct{}),
	}
}

// Register claims username for sess. The check and insert happen under one
// lock, so concurrent attempts for the same name resolve with exactly one
// winner; the rest get ErrUserTaken.
func (r *Registry) Register(username string, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[username]; exists {
		return ErrUserTaken
	}
	r.sessions[username] = sess
	return nil
}

// Unregister releases the username's slot. Unknown usernames are a no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, username)
}

// Lookup returns the live session for username, if any.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[username]
	return sess, ok
}

// Sessions returns a snapshot of all live sessions for broadcast. The
// snapshot is taken under the lock; sends happen outside it.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// CreateGroup creates the group if it does not exist. Existing groups and
// their members are left untouched; groups are never deleted.
func (r *Registry) CreateGroup(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[name]; !exists {
		r.groups[name] = make(map[string]struct{})
	}
}

// AddMember adds username to the group's member set, creating the group if
// absent. Duplicate adds are a no-op.
func (r *Registry) AddMember(group, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.groups[group]
	if !exists {
		members = make(map[string]struct{})
		r.groups[group] = members
	}
	members[username] = struct{}{}
}

// MembersOf returns the group's member usernames. An unknown group reads as
// an empty member set, not an error.
func (r *Registry) MembersOf(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	if len(members) == 0 {
		return nil
	}
	result := make([]string, 0, len(members))
	for username := range members {
		result = append(result, username)
	}
	return result
}

// RemoveEverywhere unregisters username and removes it from every group's
// member set in one atomic step. This is the registry half of the
// delete-user flow driven by the HTTP façade service.
func (r *Registry) RemoveEverywhere(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, username)
	for _, members := range r.groups {
		delete(members, username)
	}
}
