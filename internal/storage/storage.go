// Package storage persists form submissions, uploaded document metadata
// and logged-in users. The schema and any status transitions after
// "new" are owned by back-office tooling.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status of a submission. Only StatusNew is ever written here.
type Status string

const StatusNew Status = "new"

// Record holds the fields every stored submission carries.
type Record struct {
	ID        string    `json:"id" db:"id" firestore:"id"`
	Status    Status    `json:"status" db:"status" firestore:"status"`
	CreatedAt time.Time `json:"createdAt" db:"created_at" firestore:"created_at"`
}

// init fills in a fresh id, status "new" and the creation time unless the
// caller already set them.
func (r *Record) init(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusNew
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
}

// ContactMessage is a general enquiry.
type ContactMessage struct {
	Record
	Name    string `json:"name" db:"name" firestore:"name"`
	Email   string `json:"email" db:"email" firestore:"email"`
	Phone   string `json:"phone,omitempty" db:"phone" firestore:"phone"`
	Company string `json:"company,omitempty" db:"company" firestore:"company"`
	Subject string `json:"subject,omitempty" db:"subject" firestore:"subject"`
	Message string `json:"message" db:"message" firestore:"message"`
}

// StaffingRequest is a shipowner asking for crew.
type StaffingRequest struct {
	Record
	CompanyName   string   `json:"companyName" db:"company_name" firestore:"company_name"`
	ContactName   string   `json:"contactName" db:"contact_name" firestore:"contact_name"`
	Email         string   `json:"email" db:"email" firestore:"email"`
	Phone         string   `json:"phone" db:"phone" firestore:"phone"`
	VesselType    string   `json:"vesselType,omitempty" db:"vessel_type" firestore:"vessel_type"`
	Positions     []string `json:"positions" db:"-" firestore:"positions"`
	CrewCount     int      `json:"crewCount" db:"crew_count" firestore:"crew_count"`
	StartDate     string   `json:"startDate,omitempty" db:"start_date" firestore:"start_date"`
	DurationWeeks *int     `json:"durationWeeks,omitempty" db:"duration_weeks" firestore:"duration_weeks"`
	Message       string   `json:"message,omitempty" db:"message" firestore:"message"`
}

// CampaignApplication is a seafarer applying to a campaign position.
type CampaignApplication struct {
	Record
	CampaignID      string   `json:"campaignId" db:"campaign_id" firestore:"campaign_id"`
	Name            string   `json:"name" db:"name" firestore:"name"`
	Email           string   `json:"email" db:"email" firestore:"email"`
	Phone           string   `json:"phone" db:"phone" firestore:"phone"`
	Position        string   `json:"position" db:"position" firestore:"position"`
	ExperienceYears *int     `json:"experienceYears,omitempty" db:"experience_years" firestore:"experience_years"`
	Certificates    []string `json:"certificates,omitempty" db:"-" firestore:"certificates"`
	Nationality     string   `json:"nationality,omitempty" db:"nationality" firestore:"nationality"`
	Message         string   `json:"message,omitempty" db:"message" firestore:"message"`
	Consent         bool     `json:"consent" db:"consent" firestore:"consent"`
}

// Document is the metadata of an uploaded file. The bytes live in the
// blob store under ObjectKey.
type Document struct {
	Record
	SubjectID   string `json:"subjectId" db:"subject_id" firestore:"subject_id"`
	Email       string `json:"email" db:"email" firestore:"email"`
	Kind        string `json:"kind" db:"kind" firestore:"kind"`
	FileName    string `json:"fileName" db:"file_name" firestore:"file_name"`
	ContentType string `json:"contentType" db:"content_type" firestore:"content_type"`
	Size        int64  `json:"size" db:"size" firestore:"size"`
	ObjectKey   string `json:"objectKey" db:"object_key" firestore:"object_key"`
}

// User is an identity that has logged in at least once.
type User struct {
	SubjectID        string    `json:"subjectId" db:"subject_id" firestore:"subject_id"`
	Provider         string    `json:"provider" db:"provider" firestore:"provider"`
	ExternalSubject  string    `json:"externalSubject" db:"external_subject" firestore:"external_subject"`
	Email            string    `json:"email" db:"email" firestore:"email"`
	Name             string    `json:"name" db:"name" firestore:"name"`
	Phone            string    `json:"phone,omitempty" db:"phone" firestore:"phone"`
	IdentityVerified bool      `json:"identityVerified" db:"identity_verified" firestore:"identity_verified"`
	FirstSeen        time.Time `json:"firstSeen" db:"first_seen" firestore:"first_seen"`
	LastSeen         time.Time `json:"lastSeen" db:"last_seen" firestore:"last_seen"`
}

// UserExport is everything stored about one person.
type UserExport struct {
	User             *User                 `json:"user"`
	ContactMessages  []ContactMessage      `json:"contactMessages"`
	StaffingRequests []StaffingRequest     `json:"staffingRequests"`
	Applications     []CampaignApplication `json:"applications"`
	Documents        []Document            `json:"documents"`
}

func newUserExport() *UserExport {
	return &UserExport{
		ContactMessages:  []ContactMessage{},
		StaffingRequests: []StaffingRequest{},
		Applications:     []CampaignApplication{},
		Documents:        []Document{},
	}
}

// Storage is implemented by every backend. Create methods fill in the
// record's ID, Status and CreatedAt.
type Storage interface {
	CreateContact(ctx context.Context, m *ContactMessage) error
	CreateStaffingRequest(ctx context.Context, r *StaffingRequest) error
	CreateApplication(ctx context.Context, a *CampaignApplication) error
	// HasRecentApplication reports whether email already applied for
	// position in the campaign at or after since. Email must be
	// normalized; position is compared case-insensitively.
	HasRecentApplication(ctx context.Context, email, campaignID, position string, since time.Time) (bool, error)
	CreateDocument(ctx context.Context, d *Document) error
	// UpsertUser creates the user or refreshes its profile and LastSeen.
	UpsertUser(ctx context.Context, u *User) error
	// ExportUserData collects records submitted with email and documents
	// uploaded by subjectID. Either may be empty.
	ExportUserData(ctx context.Context, email, subjectID string) (*UserExport, error)
	Ping(ctx context.Context) error
	Close() error
}
