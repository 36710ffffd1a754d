package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps everything in process memory. For development and
// tests; nothing survives a restart.
type MemoryStorage struct {
	mu               sync.RWMutex
	contacts         []ContactMessage
	staffingRequests []StaffingRequest
	applications     []CampaignApplication
	documents        []Document
	users            map[string]*User // by subject id
	now              func() time.Time
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users: make(map[string]*User),
		now:   time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *MemoryStorage) WithClock(now func() time.Time) *MemoryStorage {
	s.now = now
	return s
}

func (s *MemoryStorage) CreateContact(_ context.Context, m *ContactMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.init(s.now())
	s.contacts = append(s.contacts, *m)
	return nil
}

func (s *MemoryStorage) CreateStaffingRequest(_ context.Context, r *StaffingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.init(s.now())
	stored := *r
	stored.Positions = slices.Clone(r.Positions)
	s.staffingRequests = append(s.staffingRequests, stored)
	return nil
}

func (s *MemoryStorage) CreateApplication(_ context.Context, a *CampaignApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.init(s.now())
	stored := *a
	stored.Certificates = slices.Clone(a.Certificates)
	s.applications = append(s.applications, stored)
	return nil
}

func (s *MemoryStorage) HasRecentApplication(_ context.Context, email, campaignID, position string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.applications {
		if a.Email == email && a.CampaignID == campaignID &&
			strings.EqualFold(a.Position, position) && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStorage) CreateDocument(_ context.Context, d *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.init(s.now())
	s.documents = append(s.documents, *d)
	return nil
}

func (s *MemoryStorage) UpsertUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := *u
	stored.LastSeen = now
	if existing, ok := s.users[u.SubjectID]; ok {
		stored.FirstSeen = existing.FirstSeen
	} else {
		stored.FirstSeen = now
	}
	s.users[u.SubjectID] = &stored
	*u = stored
	return nil
}

func (s *MemoryStorage) ExportUserData(_ context.Context, email, subjectID string) (*UserExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := newUserExport()
	if email != "" {
		for _, m := range s.contacts {
			if m.Email == email {
				out.ContactMessages = append(out.ContactMessages, m)
			}
		}
		for _, r := range s.staffingRequests {
			if r.Email == email {
				out.StaffingRequests = append(out.StaffingRequests, r)
			}
		}
		for _, a := range s.applications {
			if a.Email == email {
				out.Applications = append(out.Applications, a)
			}
		}
	}
	if subjectID != "" {
		for _, d := range s.documents {
			if d.SubjectID == subjectID {
				out.Documents = append(out.Documents, d)
			}
		}
		if u, ok := s.users[subjectID]; ok {
			user := *u
			out.User = &user
		}
	}
	return out, nil
}

func (s *MemoryStorage) Ping(context.Context) error { return nil }

func (s *MemoryStorage) Close() error { return nil }
