// Package memory is an in-process store used by tests and the dev mode of
// cmd/api. It mirrors the transactional guarantees of the Postgres store:
// every mutation happens under one lock, so a report insert and its village
// counter bump are atomic and concurrent increments are never lost.
package memory

import (
	"context"
	"sort"
	"sync"

	"resqlink.org/internal/emergency"
	"resqlink.org/internal/identity"
)

// Store implements identity.Store and emergency.Store with mutex-guarded
// maps.
type Store struct {
	mu sync.RWMutex

	users         map[string]*identity.User // keyed by real_id
	supAccess     map[string]*identity.SupAccess
	villages      map[int64]*emergency.Village
	reports       map[string]*emergency.Report
	sos           map[string]*emergency.SOSRequest
	notes         map[string]*emergency.Note
	announcements map[string]*emergency.Announcement
	polygons      map[string]*emergency.Polygon
}

var (
	_ identity.Store  = (*Store)(nil)
	_ emergency.Store = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*identity.User),
		supAccess:     make(map[string]*identity.SupAccess),
		villages:      make(map[int64]*emergency.Village),
		reports:       make(map[string]*emergency.Report),
		sos:           make(map[string]*emergency.SOSRequest),
		notes:         make(map[string]*emergency.Note),
		announcements: make(map[string]*emergency.Announcement),
		polygons:      make(map[string]*emergency.Polygon),
	}
}

// matches applies the storage filter to one record. OwnerID filtering
// dominates; a global record (villageID 0) is admitted only via
// IncludeGlobal.
func matches(f emergency.Filter, ownerID string, villageID int64) bool {
	if f.OwnerID != "" {
		if ownerID != f.OwnerID {
			return false
		}
		if len(f.Villages) > 0 {
			return containsVillage(f.Villages, villageID)
		}
		return true
	}
	if villageID == 0 {
		return f.IncludeGlobal
	}
	if f.Empty {
		return false
	}
	return containsVillage(f.Villages, villageID)
}

func containsVillage(set []int64, villageID int64) bool {
	for _, v := range set {
		if v == villageID {
			return true
		}
	}
	return false
}

// --- identity.Store ---

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.RealID]; ok {
		return identity.ErrConflict
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return identity.ErrConflict
		}
	}
	cp := *u
	s.users[u.RealID] = &cp
	return nil
}

func (s *Store) FindUser(ctx context.Context, realID string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[realID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Store) ListUsersByVillage(ctx context.Context, villageID int64) ([]*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*identity.User
	for _, u := range s.users {
		if u.AssignedVillage == villageID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RealID < out[j].RealID })
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.RealID]; !ok {
		return identity.ErrNotFound
	}
	cp := *u
	s.users[u.RealID] = &cp
	return nil
}

func (s *Store) SupAccessFor(ctx context.Context, userID string) (*identity.SupAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	access, ok := s.supAccess[userID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *access
	cp.Villages = append([]int64(nil), access.Villages...)
	return &cp, nil
}

func (s *Store) UpsertSupAccess(ctx context.Context, access *identity.SupAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *access
	cp.Villages = append([]int64(nil), access.Villages...)
	s.supAccess[access.UserID] = &cp
	return nil
}

func (s *Store) VillageExists(ctx context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.villages[id]
	return ok, nil
}

// --- emergency.Store ---

// PutVillage seeds or replaces a village record.
func (s *Store) PutVillage(v *emergency.Village) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.villages[v.ID] = &cp
}

func (s *Store) CreateReport(ctx context.Context, r *emergency.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Attachments = append([]string(nil), r.Attachments...)
	s.reports[r.ID] = &cp

	// Counter bump is part of the same critical section; a missing village
	// record starts from zero instead of failing.
	v, ok := s.villages[r.VillageID]
	if !ok {
		v = &emergency.Village{ID: r.VillageID}
		s.villages[r.VillageID] = v
	}
	v.ReportsToday++
	return nil
}

func (s *Store) ListReports(ctx context.Context, f emergency.Filter) ([]*emergency.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*emergency.Report
	for _, r := range s.reports {
		if matches(f, r.UserID, r.VillageID) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*emergency.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return emergency.ErrNotFound
	}
	delete(s.reports, id)
	return nil
}

func (s *Store) CreateSOS(ctx context.Context, req *emergency.SOSRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.sos[req.ID] = &cp
	return nil
}

func (s *Store) ListSOS(ctx context.Context, f emergency.Filter) ([]*emergency.SOSRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*emergency.SOSRequest
	for _, req := range s.sos {
		if matches(f, req.UserID, req.VillageID) {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetSOS(ctx context.Context, id string) (*emergency.SOSRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.sos[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *Store) DeleteSOS(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sos[id]; !ok {
		return emergency.ErrNotFound
	}
	delete(s.sos, id)
	return nil
}

func (s *Store) DeleteSOSByVillage(ctx context.Context, villageID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, req := range s.sos {
		if req.VillageID == villageID {
			delete(s.sos, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) CreateNote(ctx context.Context, n *emergency.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notes[n.ID] = &cp
	return nil
}

func (s *Store) ListNotes(ctx context.Context, f emergency.Filter) ([]*emergency.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*emergency.Note
	for _, n := range s.notes {
		if matches(f, n.UserID, n.VillageID) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetNote(ctx context.Context, id string) (*emergency.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *Store) UpdateNote(ctx context.Context, n *emergency.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[n.ID]; !ok {
		return emergency.ErrNotFound
	}
	cp := *n
	s.notes[n.ID] = &cp
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return emergency.ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

func (s *Store) CreateAnnouncement(ctx context.Context, a *emergency.Announcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.announcements[a.ID] = &cp
	return nil
}

func (s *Store) ListAnnouncements(ctx context.Context, f emergency.Filter) ([]*emergency.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*emergency.Announcement
	for _, a := range s.announcements {
		if matches(f, a.UserID, a.VillageID) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetAnnouncement(ctx context.Context, id string) (*emergency.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.announcements[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) DeleteAnnouncement(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.announcements[id]; !ok {
		return emergency.ErrNotFound
	}
	delete(s.announcements, id)
	return nil
}

func (s *Store) CreatePolygon(ctx context.Context, p *emergency.Polygon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.polygons[p.ID] = &cp
	return nil
}

func (s *Store) ListPolygons(ctx context.Context, f emergency.Filter) ([]*emergency.Polygon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*emergency.Polygon
	for _, p := range s.polygons {
		if matches(f, p.UserID, p.VillageID) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetPolygon(ctx context.Context, id string) (*emergency.Polygon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polygons[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdatePolygon(ctx context.Context, p *emergency.Polygon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polygons[p.ID]; !ok {
		return emergency.ErrNotFound
	}
	cp := *p
	s.polygons[p.ID] = &cp
	return nil
}

func (s *Store) DeletePolygon(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polygons[id]; !ok {
		return emergency.ErrNotFound
	}
	delete(s.polygons, id)
	return nil
}

func (s *Store) GetVillage(ctx context.Context, id int64) (*emergency.Village, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.villages[id]
	if !ok {
		return nil, emergency.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ListVillages(ctx context.Context, f emergency.Filter) ([]*emergency.Village, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*emergency.Village
	for _, v := range s.villages {
		if matches(f, "", v.ID) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateVillageStatus(ctx context.Context, id int64, emergencyStatus, serviceStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.villages[id]
	if !ok {
		return emergency.ErrNotFound
	}
	v.EmergencyStatus = emergencyStatus
	v.ServiceStatus = serviceStatus
	return nil
}
