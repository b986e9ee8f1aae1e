package mailroom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/storage"
)

// processHistory walks Gmail history from the account's cursor, archives
// every new invoice email into Drive and records it. It returns how many
// messages were archived and the newest history id seen. Failures on a
// single message are logged and skipped; only a failure to read history
// itself aborts the pass, leaving the cursor where it was.
func (s *Service) processHistory(ctx context.Context, account *fields.EmailAccount) (int, uint64, error) {
	tok, err := account.Token()
	if err != nil {
		return 0, 0, err
	}
	box, err := s.Mailbox(ctx, tok)
	if err != nil {
		return 0, 0, err
	}
	drv, err := s.Drive(ctx, tok)
	if err != nil {
		return 0, 0, err
	}

	ids, newest, err := box.HistorySince(ctx, account.HistoryID)
	if err != nil {
		return 0, 0, err
	}

	archived := 0
	for _, id := range ids {
		done, err := fields.AlreadyProcessed(id, s.Db)
		if err == nil && done {
			continue
		}
		msg, err := box.Message(ctx, id)
		if err != nil {
			s.Logger.WithFields(map[string]interface{}{
				"message_id": id,
				"error":      err.Error(),
			}).Warn("message fetch failed")
			continue
		}
		matched := MatchInvoice(msg.Subject, msg.Sender, msg.Body, s.Config.InvoiceKeywords, s.Config.InvoiceDomains)
		if matched == "" {
			continue
		}
		if err := s.archiveMessage(ctx, box, drv, account, msg, matched); err != nil {
			s.Logger.WithFields(map[string]interface{}{
				"message_id": id,
				"error":      err.Error(),
			}).Error("archive failed")
			continue
		}
		archived++
	}
	return archived, newest, nil
}

// archiveMessage lands one matched email in Drive: a text summary, then
// every attachment, then the dedupe record. The Gmail-side archive label
// change runs last and never fails the message.
func (s *Service) archiveMessage(ctx context.Context, box Mailbox, drv Drive, account *fields.EmailAccount, msg *InboundEmail, matched string) error {
	folderID, err := s.resolveFolder(ctx, drv, msg.ReceivedAt)
	if err != nil {
		return fmt.Errorf("resolve folder: %w", err)
	}

	summaryName := msg.ReceivedAt.Format("20060102-150405") + "-" + storage.SanitizeName(msg.Subject) + ".txt"
	fileID, err := drv.Upload(ctx, folderID, summaryName, "text/plain", []byte(emailSummary(msg)))
	if err != nil {
		return fmt.Errorf("upload summary: %w", err)
	}

	var attachmentIDs []string
	for _, att := range msg.Attachments {
		data, err := box.Attachment(ctx, msg.ID, att.ID)
		if err != nil {
			s.Logger.WithFields(map[string]interface{}{
				"message_id": msg.ID,
				"attachment": att.Filename,
				"error":      err.Error(),
			}).Warn("attachment fetch failed")
			continue
		}
		attID, err := drv.Upload(ctx, folderID, storage.SanitizeName(att.Filename), att.MimeType, data)
		if err != nil {
			s.Logger.WithFields(map[string]interface{}{
				"message_id": msg.ID,
				"attachment": att.Filename,
				"error":      err.Error(),
			}).Warn("attachment upload failed")
			continue
		}
		attachmentIDs = append(attachmentIDs, attID)
	}

	rec := &fields.ProcessedEmail{
		AccountID:      account.ID,
		MessageID:      msg.ID,
		Subject:        msg.Subject,
		Sender:         msg.Sender,
		ReceivedAt:     msg.ReceivedAt,
		MatchedKeyword: matched,
		DriveFileID:    fileID,
	}
	_ = rec.SetAttachmentIDs(attachmentIDs)
	if err := fields.RecordProcessed(rec, s.Db); err != nil {
		return fmt.Errorf("record processed: %w", err)
	}

	if s.Config.ArchiveProcessed {
		if err := box.Archive(ctx, msg.ID); err != nil {
			s.Logger.WithFields(map[string]interface{}{
				"message_id": msg.ID,
				"error":      err.Error(),
			}).Warn("gmail archive failed")
		}
	}
	return nil
}

// emailSummary renders the archived text file: minimal headers, blank
// line, body.
func emailSummary(msg *InboundEmail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\n", msg.ReceivedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\n\n", msg.ID)
	b.WriteString(msg.Body)
	return b.String()
}
