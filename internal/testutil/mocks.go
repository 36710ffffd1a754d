// Package testutil holds testify mocks of the storage backends for handler
// tests that need to inject failures.
package testutil

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fjordcrew/crewfront/internal/blob"
	"github.com/fjordcrew/crewfront/internal/storage"
)

var (
	_ storage.Storage = (*MockStorage)(nil)
	_ blob.Store      = (*MockBlobStore)(nil)
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) CreateContact(ctx context.Context, msg *storage.ContactMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStorage) CreateStaffingRequest(ctx context.Context, r *storage.StaffingRequest) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockStorage) CreateApplication(ctx context.Context, a *storage.CampaignApplication) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockStorage) HasRecentApplication(ctx context.Context, email, campaignID, position string, since time.Time) (bool, error) {
	args := m.Called(ctx, email, campaignID, position, since)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) CreateDocument(ctx context.Context, d *storage.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockStorage) UpsertUser(ctx context.Context, u *storage.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockStorage) ExportUserData(ctx context.Context, email, subjectID string) (*storage.UserExport, error) {
	args := m.Called(ctx, email, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UserExport), args.Error(1)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockBlobStore struct {
	mock.Mock
}

// Put drains r and reports its length unless the expectation returns an
// error.
func (m *MockBlobStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	n, _ := io.Copy(io.Discard, r)
	args := m.Called(ctx, key, contentType)
	if err := args.Error(0); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *MockBlobStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
