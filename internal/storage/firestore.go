package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fjordcrew/crewfront/internal/log"
)

var _ Storage = (*FirestoreStorage)(nil)

// Collection names, before the configured prefix.
const (
	collectionContacts     = "contact_messages"
	collectionStaffing     = "staffing_requests"
	collectionApplications = "campaign_applications"
	collectionDocuments    = "documents"
	collectionUsers        = "users"
)

// FirestoreStorage stores each record as a document named by its id, in
// collections named like the Postgres tables.
type FirestoreStorage struct {
	client *firestore.Client
	prefix string
	now    func() time.Time
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collectionPrefix string) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":  projectID,
		"database": database,
		"prefix":   collectionPrefix,
	})
	return &FirestoreStorage{client: client, prefix: collectionPrefix, now: time.Now}, nil
}

func (s *FirestoreStorage) collection(name string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + name)
}

func (s *FirestoreStorage) create(ctx context.Context, collection, id string, data any) error {
	if _, err := s.collection(collection).Doc(id).Create(ctx, data); err != nil {
		return fmt.Errorf("creating %s document: %w", collection, err)
	}
	return nil
}

func (s *FirestoreStorage) CreateContact(ctx context.Context, m *ContactMessage) error {
	m.init(s.now())
	return s.create(ctx, collectionContacts, m.ID, m)
}

func (s *FirestoreStorage) CreateStaffingRequest(ctx context.Context, r *StaffingRequest) error {
	r.init(s.now())
	return s.create(ctx, collectionStaffing, r.ID, r)
}

func (s *FirestoreStorage) CreateApplication(ctx context.Context, a *CampaignApplication) error {
	a.init(s.now())
	return s.create(ctx, collectionApplications, a.ID, a)
}

// HasRecentApplication filters on the equality fields server-side and on
// position and time client-side, so no composite index is needed.
func (s *FirestoreStorage) HasRecentApplication(ctx context.Context, email, campaignID, position string, since time.Time) (bool, error) {
	iter := s.collection(collectionApplications).
		Where("email", "==", email).
		Where("campaign_id", "==", campaignID).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to iterate applications: %w", err)
		}
		var a CampaignApplication
		if err := doc.DataTo(&a); err != nil {
			log.LogError("Failed to unmarshal application %s: %v", doc.Ref.ID, err)
			continue
		}
		if strings.EqualFold(a.Position, position) && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
}

func (s *FirestoreStorage) CreateDocument(ctx context.Context, d *Document) error {
	d.init(s.now())
	return s.create(ctx, collectionDocuments, d.ID, d)
}

// UpsertUser updates the profile of a known user, or creates it
func (s *FirestoreStorage) UpsertUser(ctx context.Context, u *User) error {
	now := s.now().UTC()
	ref := s.collection(collectionUsers).Doc(u.SubjectID)

	doc, err := ref.Get(ctx)
	if err == nil {
		var existing User
		if err := doc.DataTo(&existing); err == nil {
			u.FirstSeen = existing.FirstSeen
		}
		u.LastSeen = now
		_, err = ref.Update(ctx, []firestore.Update{
			{Path: "email", Value: u.Email},
			{Path: "name", Value: u.Name},
			{Path: "phone", Value: u.Phone},
			{Path: "identity_verified", Value: u.IdentityVerified},
			{Path: "last_seen", Value: now},
		})
		return err
	}

	if status.Code(err) == codes.NotFound {
		u.FirstSeen = now
		u.LastSeen = now
		_, err = ref.Set(ctx, u)
		return err
	}
	return err
}

func (s *FirestoreStorage) ExportUserData(ctx context.Context, email, subjectID string) (*UserExport, error) {
	out := newUserExport()

	if email != "" {
		if err := queryAll(ctx, s.collection(collectionContacts).Where("email", "==", email), &out.ContactMessages); err != nil {
			return nil, err
		}
		if err := queryAll(ctx, s.collection(collectionStaffing).Where("email", "==", email), &out.StaffingRequests); err != nil {
			return nil, err
		}
		if err := queryAll(ctx, s.collection(collectionApplications).Where("email", "==", email), &out.Applications); err != nil {
			return nil, err
		}
	}

	if subjectID != "" {
		if err := queryAll(ctx, s.collection(collectionDocuments).Where("subject_id", "==", subjectID), &out.Documents); err != nil {
			return nil, err
		}
		doc, err := s.collection(collectionUsers).Doc(subjectID).Get(ctx)
		switch {
		case err == nil:
			var u User
			if err := doc.DataTo(&u); err != nil {
				return nil, fmt.Errorf("decoding user: %w", err)
			}
			out.User = &u
		case status.Code(err) != codes.NotFound:
			return nil, fmt.Errorf("reading user: %w", err)
		}
	}

	return out, nil
}

// queryAll appends every document matched by q to dst.
func queryAll[T any](ctx context.Context, q firestore.Query, dst *[]T) error {
	iter := q.Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to iterate documents: %w", err)
		}
		var v T
		if err := doc.DataTo(&v); err != nil {
			log.LogError("Failed to unmarshal document %s: %v", doc.Ref.ID, err)
			continue
		}
		*dst = append(*dst, v)
	}
}

// Ping reads at most one user document.
func (s *FirestoreStorage) Ping(ctx context.Context) error {
	iter := s.collection(collectionUsers).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
