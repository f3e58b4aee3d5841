package server

import (
	"cmp"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type registryEntry struct {
	session *Session
	seq     uint64
}

// Registry holds every live session, keyed by connection identity.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]registryEntry
	nextSeq  uint64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]registryEntry),
	}
}

// Add registers session. Adding a registered session is a no-op.
func (r *Registry) Add(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; ok {
		return
	}
	r.nextSeq++
	r.sessions[session.ID] = registryEntry{session: session, seq: r.nextSeq}
}

func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[id]
	return entry.session, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the live sessions in registration order. The slice is
// owned by the caller.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b registryEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	sessions := make([]*Session, len(entries))
	for i, entry := range entries {
		sessions[i] = entry.session
	}
	return sessions
}

// FindByUserID returns the logged-in sessions bound to userID, in
// registration order.
func (r *Registry) FindByUserID(userID int64) []*Session {
	var found []*Session
	for _, session := range r.Snapshot() {
		st := session.State()
		if st.LoggedIn() && st.UserID == userID {
			found = append(found, session)
		}
	}
	return found
}

// Claim logs session in as userID and registers it. With exclusive set
// it fails when another live session is already bound to the same user.
// The check and the bind happen under the registry lock so two racing
// logins cannot both succeed.
func (r *Registry) Claim(session *Session, userID int64, username string, exclusive bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exclusive {
		for id, entry := range r.sessions {
			if id == session.ID {
				continue
			}
			st := entry.session.State()
			if st.LoggedIn() && st.UserID == userID {
				return false
			}
		}
	}

	session.bind(userID, username)
	if _, ok := r.sessions[session.ID]; !ok {
		r.nextSeq++
		r.sessions[session.ID] = registryEntry{session: session, seq: r.nextSeq}
	}
	return true
}

// Usernames returns the names of logged-in sessions in registration
// order.
func (r *Registry) Usernames() []string {
	var names []string
	for _, session := range r.Snapshot() {
		if st := session.State(); st.LoggedIn() {
			names = append(names, st.Username)
		}
	}
	return names
}
