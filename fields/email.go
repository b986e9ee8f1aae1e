package fields

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmailAccount is a Gmail mailbox linked through Google OAuth. TokenJSON
// holds the serialized oauth2 token (access+refresh); HistoryID is the
// Gmail watch cursor the webhook compares notifications against.
type EmailAccount struct {
	gorm.Model
	UserID          uint   `json:"-" gorm:"index"`
	Email           string `json:"email" gorm:"index:idx_account_email,unique"`
	TokenJSON       string `json:"-"`
	HistoryID       uint64 `json:"history_id"`
	WatchExpiration int64  `json:"watch_expiration"`
	TopicName       string `json:"topic_name"`
}

// Token deserializes the stored OAuth credential blob.
func (a *EmailAccount) Token() (*oauth2.Token, error) {
	if a.TokenJSON == "" {
		return nil, errors.New("account has no stored token")
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(a.TokenJSON), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// SetToken serializes and stores an OAuth token on the account.
func (a *EmailAccount) SetToken(tok *oauth2.Token) error {
	buf, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	a.TokenJSON = string(buf)
	return nil
}

// UpsertEmailAccount creates or refreshes the account row keyed by email.
func UpsertEmailAccount(account *EmailAccount, db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"user_id":    account.UserID,
			"token_json": account.TokenJSON,
			"updated_at": time.Now(),
		}),
	}).Create(account).Error
}

// GetEmailAccountByUser returns the mailbox linked by this user, if any.
func GetEmailAccountByUser(userID uint, db *gorm.DB) (EmailAccount, error) {
	var account EmailAccount
	res := db.First(&account, "user_id = ?", userID)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return account, errors.New("no linked email account")
	}
	return account, res.Error
}

// GetEmailAccountByEmail returns the mailbox for a notification address.
func GetEmailAccountByEmail(email string, db *gorm.DB) (EmailAccount, error) {
	var account EmailAccount
	res := db.First(&account, "email = ?", email)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return account, errors.New("no linked email account")
	}
	return account, res.Error
}

// AdvanceHistory moves the watch cursor forward. A smaller or equal id is
// dropped so replayed notifications never rewind the cursor.
func (a *EmailAccount) AdvanceHistory(db *gorm.DB, historyID uint64) error {
	if historyID <= a.HistoryID {
		return nil
	}
	a.HistoryID = historyID
	return db.Model(a).Update("history_id", historyID).Error
}

// SetWatch records a freshly registered Gmail watch.
func (a *EmailAccount) SetWatch(db *gorm.DB, historyID uint64, expiration int64, topic string) error {
	a.HistoryID = historyID
	a.WatchExpiration = expiration
	a.TopicName = topic
	return db.Model(a).Updates(map[string]interface{}{
		"history_id":       historyID,
		"watch_expiration": expiration,
		"topic_name":       topic,
	}).Error
}

// WatchExpired reports whether the stored watch registration has lapsed.
func (a *EmailAccount) WatchExpired(now time.Time) bool {
	return a.WatchExpiration > 0 && now.UnixMilli() > a.WatchExpiration
}

// ProcessedEmail records one archived invoice email and where it landed in
// Drive. MessageID is unique: a message is archived at most once no matter
// how many notifications replay it.
type ProcessedEmail struct {
	gorm.Model
	AccountID         uint      `json:"-" gorm:"index"`
	MessageID         string    `json:"message_id" gorm:"index:idx_message_id,unique"`
	Subject           string    `json:"subject"`
	Sender            string    `json:"sender"`
	ReceivedAt        time.Time `json:"received_at"`
	MatchedKeyword    string    `json:"matched_keyword"`
	DriveFileID       string    `json:"drive_file_id"`
	AttachmentFileIDs string    `json:"attachment_file_ids"`
}

// AlreadyProcessed reports whether a Gmail message id was archived before.
func AlreadyProcessed(messageID string, db *gorm.DB) (bool, error) {
	var count int64
	err := db.Model(&ProcessedEmail{}).Where("message_id = ?", messageID).Count(&count).Error
	return count > 0, err
}

// RecordProcessed stores the archive record; a replayed message id is
// swallowed as already-done rather than surfaced as a failure.
func RecordProcessed(rec *ProcessedEmail, db *gorm.DB) error {
	err := db.Create(rec).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// SetAttachmentIDs serializes the Drive file ids of uploaded attachments.
func (p *ProcessedEmail) SetAttachmentIDs(ids []string) error {
	buf, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	p.AttachmentFileIDs = string(buf)
	return nil
}
