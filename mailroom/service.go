// Package mailroom links Gmail mailboxes over OAuth, keeps a Gmail watch
// registered against a Pub/Sub topic and archives incoming invoice emails
// into a year/month folder tree on Google Drive.
package mailroom

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

// AttachmentRef points at one attachment of an inbound message; the bytes
// are fetched separately.
type AttachmentRef struct {
	ID       string
	Filename string
	MimeType string
}

// InboundEmail is the flattened form of a Gmail message: headers decoded,
// body extracted, attachments listed.
type InboundEmail struct {
	ID          string
	Subject     string
	Sender      string
	Body        string
	ReceivedAt  time.Time
	Attachments []AttachmentRef
}

// Mailbox is the slice of the Gmail API the archiver drives.
type Mailbox interface {
	Profile(ctx context.Context) (email string, historyID uint64, err error)
	Watch(ctx context.Context, topic string) (historyID uint64, expiration int64, err error)
	HistorySince(ctx context.Context, startID uint64) (messageIDs []string, newestID uint64, err error)
	Message(ctx context.Context, id string) (*InboundEmail, error)
	Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	Archive(ctx context.Context, messageID string) error
}

// Drive is the slice of the Drive API the archiver drives.
type Drive interface {
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error)
}

// MailboxFactory opens a Mailbox with the account's stored credential.
type MailboxFactory func(ctx context.Context, tok *oauth2.Token) (Mailbox, error)

// DriveFactory opens a Drive with the account's stored credential.
type DriveFactory func(ctx context.Context, tok *oauth2.Token) (Drive, error)

// Service owns the OAuth link, the watch lifecycle and the Pub/Sub push
// webhook. The factories are swapped for mocks in tests.
type Service struct {
	Db      *gorm.DB
	Redis   *redis.Client
	Config  fields.Config
	Logger  *logrus.Logger
	OAuth   *oauth2.Config
	Mailbox MailboxFactory
	Drive   DriveFactory
}

func getUserID(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		switch t := v.(type) {
		case uint:
			return t
		case int:
			return uint(t)
		case int64:
			return uint(t)
		case float64:
			return uint(t)
		}
	}
	return 0
}

// account loads the caller's linked mailbox row.
func (s *Service) account(c *fiber.Ctx) (fields.EmailAccount, error) {
	account, err := fields.GetEmailAccountByUser(getUserID(c), s.Db)
	if err != nil {
		return account, apperr.ErrNoEmailAccount
	}
	return account, nil
}
