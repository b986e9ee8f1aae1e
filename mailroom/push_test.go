package mailroom

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

type pushPayload struct {
	Archived int `json:"archived"`
}

func TestPubSubPushArchivesInvoices(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "owner@example.com")
	seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	received := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		if startID != 100 {
			t.Errorf("history walked from %d, want the stored cursor 100", startID)
		}
		return []string{"msg-1", "msg-2"}, 150, nil
	}
	env.Box.MessageFunc = func(ctx context.Context, id string) (*InboundEmail, error) {
		if id == "msg-1" {
			return &InboundEmail{
				ID:         "msg-1",
				Subject:    "Invoice #42",
				Sender:     "Acme Billing <billing@acme.com>",
				Body:       "total due 120.00",
				ReceivedAt: received,
				Attachments: []AttachmentRef{
					{ID: "att-1", Filename: "Invoice 42.pdf", MimeType: "application/pdf"},
				},
			}, nil
		}
		return &InboundEmail{
			ID:         id,
			Subject:    "Weekly digest",
			Sender:     "news@example.com",
			Body:       "what happened this week",
			ReceivedAt: received,
		}, nil
	}
	env.Box.AttachmentFunc = func(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
		if messageID != "msg-1" || attachmentID != "att-1" {
			t.Errorf("fetched attachment %s/%s", messageID, attachmentID)
		}
		return []byte("%PDF-1.4 fake"), nil
	}

	body := pushEnvelope(t, "inbox@example.com", 150)
	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, envl.Meta.Message)
	}
	var out pushPayload
	if err := json.Unmarshal(envl.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.Archived != 1 {
		t.Fatalf("archived = %d, want 1", out.Archived)
	}

	// the invoice landed as a summary plus its attachment, in the month
	// folder of the received date, with a filesystem-safe name
	if len(env.Drive.Uploads) != 2 {
		t.Fatalf("drive uploads = %d, want 2", len(env.Drive.Uploads))
	}
	summary := env.Drive.Uploads[0]
	if summary.FolderID != "Invoices/2026/03" {
		t.Errorf("summary folder = %q", summary.FolderID)
	}
	if summary.Name != "20260314-093000-Invoice__42.txt" {
		t.Errorf("summary name = %q", summary.Name)
	}
	if summary.MimeType != "text/plain" {
		t.Errorf("summary mime = %q", summary.MimeType)
	}
	text := string(summary.Data)
	for _, want := range []string{"From: Acme Billing <billing@acme.com>", "Subject: Invoice #42", "total due 120.00"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
	attachment := env.Drive.Uploads[1]
	if attachment.Name != "Invoice_42.pdf" || attachment.MimeType != "application/pdf" {
		t.Errorf("attachment = %q (%s)", attachment.Name, attachment.MimeType)
	}
	if string(attachment.Data) != "%PDF-1.4 fake" {
		t.Errorf("attachment bytes mangled: %q", attachment.Data)
	}

	rec := fields.ProcessedEmail{}
	if err := env.DB.First(&rec, "message_id = ?", "msg-1").Error; err != nil {
		t.Fatalf("processed record missing: %v", err)
	}
	if rec.MatchedKeyword != "invoice" {
		t.Errorf("matched rule = %q, want invoice", rec.MatchedKeyword)
	}
	if rec.DriveFileID != "file-1" {
		t.Errorf("summary file id = %q", rec.DriveFileID)
	}
	if !strings.Contains(rec.AttachmentFileIDs, `"file-2"`) {
		t.Errorf("attachment ids = %q", rec.AttachmentFileIDs)
	}

	account, err := fields.GetEmailAccountByEmail("inbox@example.com", env.DB)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.HistoryID != 150 {
		t.Errorf("cursor = %d, want 150", account.HistoryID)
	}

	// a replayed notification is acked without rework
	resp, envl = doJSON(t, env.Router, "POST", "/pubsub/push", "", body)
	if resp.StatusCode != http.StatusOK || envl.Meta.Message != "already processed" {
		t.Fatalf("replay = %d %q", resp.StatusCode, envl.Meta.Message)
	}
	if len(env.Drive.Uploads) != 2 {
		t.Errorf("replay re-uploaded: %d uploads", len(env.Drive.Uploads))
	}
}

func TestPubSubPushStaleNotification(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "owner@example.com")
	seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	walked := false
	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		walked = true
		return nil, startID, nil
	}

	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "inbox@example.com", 90))
	if resp.StatusCode != http.StatusOK || envl.Meta.Message != "already processed" {
		t.Fatalf("stale push = %d %q", resp.StatusCode, envl.Meta.Message)
	}
	if walked {
		t.Error("history walked for a notification behind the cursor")
	}
}

func TestPubSubPushUnknownMailbox(t *testing.T) {
	env := newTestEnv(t)

	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "stranger@example.com", 150))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want the 200 ack", resp.StatusCode)
	}
	if envl.Meta.Message != "no such mailbox" {
		t.Errorf("message = %q", envl.Meta.Message)
	}
}

func TestPubSubPushMalformed(t *testing.T) {
	env := newTestEnv(t)

	plainData, _ := json.Marshal(fiber.Map{"message": fiber.Map{"data": base64.StdEncoding.EncodeToString([]byte("{}"))}})
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{broken`},
		{"empty message data", `{"message":{"data":""}}`},
		{"data not base64", `{"message":{"data":"???"}}`},
		{"payload without address", string(plainData)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, env.Router, "POST", "/pubsub/push", "", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

// A notification whose messages all miss the invoice rules still moves the
// cursor, otherwise every later push would rewalk the same history.
func TestPubSubPushNonInvoiceAdvancesCursor(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "owner@example.com")
	seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		return []string{"msg-9"}, 150, nil
	}
	env.Box.MessageFunc = func(ctx context.Context, id string) (*InboundEmail, error) {
		return &InboundEmail{ID: id, Subject: "Team offsite", Sender: "hr@example.com", Body: "bring sunscreen", ReceivedAt: time.Now()}, nil
	}

	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "inbox@example.com", 150))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out pushPayload
	if err := json.Unmarshal(envl.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.Archived != 0 {
		t.Errorf("archived = %d, want 0", out.Archived)
	}
	if len(env.Drive.Uploads) != 0 {
		t.Errorf("uploads = %d, want none", len(env.Drive.Uploads))
	}

	account, err := fields.GetEmailAccountByEmail("inbox@example.com", env.DB)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.HistoryID != 150 {
		t.Errorf("cursor = %d, want 150", account.HistoryID)
	}
}

func TestPubSubPushSkipsProcessedMessages(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "owner@example.com")
	account := seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	err := fields.RecordProcessed(&fields.ProcessedEmail{
		AccountID:  account.ID,
		MessageID:  "msg-1",
		Subject:    "Invoice #42",
		ReceivedAt: time.Now(),
	}, env.DB)
	if err != nil {
		t.Fatalf("seed processed record: %v", err)
	}

	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		return []string{"msg-1"}, 150, nil
	}
	fetched := false
	env.Box.MessageFunc = func(ctx context.Context, id string) (*InboundEmail, error) {
		fetched = true
		return &InboundEmail{ID: id, Subject: "Invoice #42", ReceivedAt: time.Now()}, nil
	}

	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "inbox@example.com", 150))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out pushPayload
	if err := json.Unmarshal(envl.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.Archived != 0 {
		t.Errorf("archived = %d, want 0", out.Archived)
	}
	if fetched {
		t.Error("message refetched despite the dedupe record")
	}
}

func TestPubSubPushWatchExpired(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "owner@example.com")
	seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		return nil, 0, apperr.ErrWatchExpired
	}

	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "inbox@example.com", 150))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want the 200 ack", resp.StatusCode)
	}
	if envl.Meta.Message != "watch expired" {
		t.Errorf("message = %q", envl.Meta.Message)
	}

	account, err := fields.GetEmailAccountByEmail("inbox@example.com", env.DB)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.HistoryID != 100 {
		t.Errorf("cursor moved to %d on a failed pass", account.HistoryID)
	}
}

func TestPubSubPushHistoryFailureKeepsCursor(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "owner@example.com")
	seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		return nil, 0, errors.New("gmail: 503")
	}

	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "inbox@example.com", 150))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want the 200 ack", resp.StatusCode)
	}
	if envl.Meta.Message != "processing deferred" {
		t.Errorf("message = %q", envl.Meta.Message)
	}

	account, err := fields.GetEmailAccountByEmail("inbox@example.com", env.DB)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.HistoryID != 100 {
		t.Errorf("cursor moved to %d, the retry window is lost", account.HistoryID)
	}
}

func TestPubSubPushArchivesInGmailWhenConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.Service.Config.ArchiveProcessed = true
	user := seedUser(t, env.DB, "owner@example.com")
	seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		return []string{"msg-1"}, 150, nil
	}
	env.Box.MessageFunc = func(ctx context.Context, id string) (*InboundEmail, error) {
		return &InboundEmail{ID: id, Subject: "Receipt for order 7", Sender: "shop@example.com", ReceivedAt: time.Now()}, nil
	}

	resp, _ := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "inbox@example.com", 150))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(env.Box.Archived) != 1 || env.Box.Archived[0] != "msg-1" {
		t.Errorf("gmail archive calls = %v, want [msg-1]", env.Box.Archived)
	}
}

// A failed attachment fetch downgrades the archive to summary-only instead
// of losing the whole message.
func TestPubSubPushAttachmentFailureKeepsSummary(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "owner@example.com")
	seedAccount(t, env.DB, user.ID, "inbox@example.com", 100)

	env.Box.HistorySinceFunc = func(ctx context.Context, startID uint64) ([]string, uint64, error) {
		return []string{"msg-1"}, 150, nil
	}
	env.Box.MessageFunc = func(ctx context.Context, id string) (*InboundEmail, error) {
		return &InboundEmail{
			ID:          id,
			Subject:     "Invoice #43",
			Sender:      "billing@acme.com",
			ReceivedAt:  time.Now(),
			Attachments: []AttachmentRef{{ID: "att-1", Filename: "inv.pdf", MimeType: "application/pdf"}},
		}, nil
	}
	env.Box.AttachmentFunc = func(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
		return nil, errors.New("attachment gone")
	}

	resp, envl := doJSON(t, env.Router, "POST", "/pubsub/push", "", pushEnvelope(t, "inbox@example.com", 150))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out pushPayload
	if err := json.Unmarshal(envl.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.Archived != 1 {
		t.Errorf("archived = %d, want 1", out.Archived)
	}
	if len(env.Drive.Uploads) != 1 {
		t.Errorf("uploads = %d, want the summary alone", len(env.Drive.Uploads))
	}
	done, err := fields.AlreadyProcessed("msg-1", env.DB)
	if err != nil || !done {
		t.Errorf("message not recorded (done=%v err=%v)", done, err)
	}
}
