package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var _ Storage = (*PostgresStorage)(nil)

// PostgresStorage writes to the tables contact_messages,
// staffing_requests, campaign_applications, documents and users.
type PostgresStorage struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStorage connects to dsn and verifies the connection.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresStorageFromDB(db), nil
}

// NewPostgresStorageFromDB wraps an open handle.
func NewPostgresStorageFromDB(db *sqlx.DB) *PostgresStorage {
	return &PostgresStorage{db: db, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *PostgresStorage) WithClock(now func() time.Time) *PostgresStorage {
	s.now = now
	return s
}

func (s *PostgresStorage) CreateContact(ctx context.Context, m *ContactMessage) error {
	m.init(s.now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO contact_messages
		(id, status, created_at, name, email, phone, company, subject, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Status, m.CreatedAt, m.Name, m.Email, m.Phone, m.Company, m.Subject, m.Message)
	if err != nil {
		return fmt.Errorf("inserting contact message: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateStaffingRequest(ctx context.Context, r *StaffingRequest) error {
	r.init(s.now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO staffing_requests
		(id, status, created_at, company_name, contact_name, email, phone, vessel_type,
		 positions, crew_count, start_date, duration_weeks, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.Status, r.CreatedAt, r.CompanyName, r.ContactName, r.Email, r.Phone, r.VesselType,
		pq.Array(r.Positions), r.CrewCount, nullString(r.StartDate), r.DurationWeeks, r.Message)
	if err != nil {
		return fmt.Errorf("inserting staffing request: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateApplication(ctx context.Context, a *CampaignApplication) error {
	a.init(s.now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO campaign_applications
		(id, status, created_at, campaign_id, name, email, phone, position,
		 experience_years, certificates, nationality, message, consent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.Status, a.CreatedAt, a.CampaignID, a.Name, a.Email, a.Phone, a.Position,
		a.ExperienceYears, pq.Array(a.Certificates), a.Nationality, a.Message, a.Consent)
	if err != nil {
		return fmt.Errorf("inserting campaign application: %w", err)
	}
	return nil
}

func (s *PostgresStorage) HasRecentApplication(ctx context.Context, email, campaignID, position string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (
		SELECT 1 FROM campaign_applications
		WHERE email = $1 AND campaign_id = $2 AND lower(position) = lower($3) AND created_at >= $4)`,
		email, campaignID, position, since)
	if err != nil {
		return false, fmt.Errorf("checking recent applications: %w", err)
	}
	return exists, nil
}

func (s *PostgresStorage) CreateDocument(ctx context.Context, d *Document) error {
	d.init(s.now())
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO documents
		(id, status, created_at, subject_id, email, kind, file_name, content_type, size, object_key)
		VALUES (:id, :status, :created_at, :subject_id, :email, :kind, :file_name, :content_type, :size, :object_key)`, d)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (s *PostgresStorage) UpsertUser(ctx context.Context, u *User) error {
	now := s.now().UTC()
	u.LastSeen = now
	if u.FirstSeen.IsZero() {
		u.FirstSeen = now
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users
		(subject_id, provider, external_subject, email, name, phone, identity_verified, first_seen, last_seen)
		VALUES (:subject_id, :provider, :external_subject, :email, :name, :phone, :identity_verified, :first_seen, :last_seen)
		ON CONFLICT (subject_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			identity_verified = EXCLUDED.identity_verified,
			last_seen = EXCLUDED.last_seen`, u)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

type staffingRow struct {
	StaffingRequest
	Positions pq.StringArray `db:"positions"`
	StartDate sql.NullString `db:"start_date"`
}

type applicationRow struct {
	CampaignApplication
	Certificates pq.StringArray `db:"certificates"`
}

func (s *PostgresStorage) ExportUserData(ctx context.Context, email, subjectID string) (*UserExport, error) {
	out := newUserExport()

	if email != "" {
		if err := s.db.SelectContext(ctx, &out.ContactMessages, `SELECT
			id, status, created_at, name, email, phone, company, subject, message
			FROM contact_messages WHERE email = $1 ORDER BY created_at`, email); err != nil {
			return nil, fmt.Errorf("exporting contact messages: %w", err)
		}

		var staffing []staffingRow
		if err := s.db.SelectContext(ctx, &staffing, `SELECT
			id, status, created_at, company_name, contact_name, email, phone, vessel_type,
			positions, crew_count, start_date, duration_weeks, message
			FROM staffing_requests WHERE email = $1 ORDER BY created_at`, email); err != nil {
			return nil, fmt.Errorf("exporting staffing requests: %w", err)
		}
		for _, row := range staffing {
			r := row.StaffingRequest
			r.Positions = []string(row.Positions)
			r.StartDate = row.StartDate.String
			out.StaffingRequests = append(out.StaffingRequests, r)
		}

		var applications []applicationRow
		if err := s.db.SelectContext(ctx, &applications, `SELECT
			id, status, created_at, campaign_id, name, email, phone, position,
			experience_years, certificates, nationality, message, consent
			FROM campaign_applications WHERE email = $1 ORDER BY created_at`, email); err != nil {
			return nil, fmt.Errorf("exporting applications: %w", err)
		}
		for _, row := range applications {
			a := row.CampaignApplication
			a.Certificates = []string(row.Certificates)
			out.Applications = append(out.Applications, a)
		}
	}

	if subjectID != "" {
		if err := s.db.SelectContext(ctx, &out.Documents, `SELECT
			id, status, created_at, subject_id, email, kind, file_name, content_type, size, object_key
			FROM documents WHERE subject_id = $1 ORDER BY created_at`, subjectID); err != nil {
			return nil, fmt.Errorf("exporting documents: %w", err)
		}

		var u User
		err := s.db.GetContext(ctx, &u, `SELECT
			subject_id, provider, external_subject, email, name, phone, identity_verified, first_seen, last_seen
			FROM users WHERE subject_id = $1`, subjectID)
		switch {
		case err == nil:
			out.User = &u
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("exporting user: %w", err)
		}
	}

	return out, nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
