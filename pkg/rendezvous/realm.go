package rendezvous

import (
	"sync"
	"time"

	"github.com/saintparish4/dim/pkg/contact"
)

// Realm partitions the contact directory by the STUN REALM attribute's
// value: sessions registered under one realm only see locations stored
// in that realm's directory.
type Realm struct {
	ID        string
	CreatedAt time.Time
	Directory *contact.Directory

	sessions map[string]*Session
	mu       sync.RWMutex
}

func newRealm(id string, dir *contact.Directory) *Realm {
	return &Realm{
		ID:        id,
		CreatedAt: time.Now(),
		Directory: dir,
		sessions:  make(map[string]*Session),
	}
}

// Join adds a session to the realm.
func (r *Realm) Join(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	s.SetRealmID(r.ID)
}

// Leave removes a session from the realm.
func (r *Realm) Leave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.SetRealmID("")
		delete(r.sessions, sessionID)
	}
}

// Sessions returns a snapshot of sessions currently joined to the realm.
func (r *Realm) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// IsEmpty reports whether the realm currently has no joined sessions.
func (r *Realm) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) == 0
}

// DirectoryFactory builds a fresh contact.Directory for a newly created
// realm, wiring in whatever SignatureProvider/address encoder the node
// uses.
type DirectoryFactory func() *contact.Directory

// RealmManager manages multiple realms with automatic cleanup of
// empty ones (see CleanupEmpty).
type RealmManager struct {
	mu     sync.RWMutex
	realms map[string]*Realm

	newDirectory  DirectoryFactory
	EmptyRealmTTL time.Duration
}

// NewRealmManager creates a realm manager. newDirectory is called once
// per realm the first time it's seen.
func NewRealmManager(newDirectory DirectoryFactory) *RealmManager {
	return &RealmManager{
		realms:        make(map[string]*Realm),
		newDirectory:  newDirectory,
		EmptyRealmTTL: 5 * time.Minute,
	}
}

// GetOrCreate returns the realm for id, creating it (and its directory)
// if this is the first time it's been seen.
func (rm *RealmManager) GetOrCreate(id string) *Realm {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if r, ok := rm.realms[id]; ok {
		return r
	}
	r := newRealm(id, rm.newDirectory())
	rm.realms[id] = r
	return r
}

// Get retrieves a realm by ID, or nil if it doesn't exist.
func (rm *RealmManager) Get(id string) *Realm {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.realms[id]
}

// List returns every known realm ID.
func (rm *RealmManager) List() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	ids := make([]string, 0, len(rm.realms))
	for id := range rm.realms {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of realms.
func (rm *RealmManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.realms)
}

// CleanupEmpty removes realms that currently have no joined sessions
// and were created more than EmptyRealmTTL ago; how long a realm has
// been empty is not tracked. Returns the number removed.
func (rm *RealmManager) CleanupEmpty() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-rm.EmptyRealmTTL)
	for id, r := range rm.realms {
		if r.IsEmpty() && r.CreatedAt.Before(cutoff) {
			delete(rm.realms, id)
			removed++
		}
	}
	return removed
}

// JoinRealm moves a session into realmID, leaving its previous realm
// first if any.
func (rm *RealmManager) JoinRealm(s *Session, realmID string) *Realm {
	if current := s.GetRealmID(); current != "" && current != realmID {
		if r := rm.Get(current); r != nil {
			r.Leave(s.ID)
		}
	}
	realm := rm.GetOrCreate(realmID)
	realm.Join(s)
	return realm
}

// LeaveRealm removes a session from whatever realm it's currently in.
func (rm *RealmManager) LeaveRealm(s *Session) {
	realmID := s.GetRealmID()
	if realmID == "" {
		return
	}
	if r := rm.Get(realmID); r != nil {
		r.Leave(s.ID)
	}
}
