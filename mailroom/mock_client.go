package mailroom

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// MockMailbox is a scriptable Mailbox for tests. Unset funcs fall back to
// harmless defaults.
type MockMailbox struct {
	ProfileFunc      func(ctx context.Context) (string, uint64, error)
	WatchFunc        func(ctx context.Context, topic string) (uint64, int64, error)
	HistorySinceFunc func(ctx context.Context, startID uint64) ([]string, uint64, error)
	MessageFunc      func(ctx context.Context, id string) (*InboundEmail, error)
	AttachmentFunc   func(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	ArchiveFunc      func(ctx context.Context, messageID string) error

	Archived []string
}

// Factory lets the mock stand in for the production factory.
func (m *MockMailbox) Factory() MailboxFactory {
	return func(ctx context.Context, tok *oauth2.Token) (Mailbox, error) {
		return m, nil
	}
}

func (m *MockMailbox) Profile(ctx context.Context) (string, uint64, error) {
	if m.ProfileFunc != nil {
		return m.ProfileFunc(ctx)
	}
	return "mock@example.com", 1, nil
}

func (m *MockMailbox) Watch(ctx context.Context, topic string) (uint64, int64, error) {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx, topic)
	}
	return 100, time.Now().Add(7*24*time.Hour).UnixMilli(), nil
}

func (m *MockMailbox) HistorySince(ctx context.Context, startID uint64) ([]string, uint64, error) {
	if m.HistorySinceFunc != nil {
		return m.HistorySinceFunc(ctx, startID)
	}
	return nil, startID, nil
}

func (m *MockMailbox) Message(ctx context.Context, id string) (*InboundEmail, error) {
	if m.MessageFunc != nil {
		return m.MessageFunc(ctx, id)
	}
	return &InboundEmail{ID: id, Subject: "mock", ReceivedAt: time.Now()}, nil
}

func (m *MockMailbox) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if m.AttachmentFunc != nil {
		return m.AttachmentFunc(ctx, messageID, attachmentID)
	}
	return []byte("mock attachment"), nil
}

func (m *MockMailbox) Archive(ctx context.Context, messageID string) error {
	m.Archived = append(m.Archived, messageID)
	if m.ArchiveFunc != nil {
		return m.ArchiveFunc(ctx, messageID)
	}
	return nil
}

// MockUpload records one file the mock Drive received.
type MockUpload struct {
	FolderID string
	Name     string
	MimeType string
	Data     []byte
}

// MockDrive is a scriptable Drive for tests. The default folder ids are
// path-shaped ("Invoices/2026/08") so assertions can read them directly.
type MockDrive struct {
	EnsureFolderFunc func(ctx context.Context, name, parentID string) (string, error)
	UploadFunc       func(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error)

	Uploads []MockUpload
}

// Factory lets the mock stand in for the production factory.
func (m *MockDrive) Factory() DriveFactory {
	return func(ctx context.Context, tok *oauth2.Token) (Drive, error) {
		return m, nil
	}
}

func (m *MockDrive) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	if m.EnsureFolderFunc != nil {
		return m.EnsureFolderFunc(ctx, name, parentID)
	}
	if parentID == "" {
		return name, nil
	}
	return parentID + "/" + name, nil
}

func (m *MockDrive) Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, folderID, name, mimeType, data)
	}
	m.Uploads = append(m.Uploads, MockUpload{FolderID: folderID, Name: name, MimeType: mimeType, Data: data})
	return fmt.Sprintf("file-%d", len(m.Uploads)), nil
}
