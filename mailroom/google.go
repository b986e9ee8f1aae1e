package mailroom

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mediadesk/mediadesk/apperr"
)

// NewMailboxFactory returns the production Gmail factory. The oauth2
// client transport refreshes expired tokens on its own.
func NewMailboxFactory(oauthCfg *oauth2.Config, opts ...option.ClientOption) MailboxFactory {
	return func(ctx context.Context, tok *oauth2.Token) (Mailbox, error) {
		all := append([]option.ClientOption{option.WithHTTPClient(oauthCfg.Client(ctx, tok))}, opts...)
		svc, err := gmail.NewService(ctx, all...)
		if err != nil {
			return nil, fmt.Errorf("create gmail client: %w", err)
		}
		return &gmailBox{svc: svc}, nil
	}
}

// NewDriveFactory returns the production Drive factory.
func NewDriveFactory(oauthCfg *oauth2.Config, opts ...option.ClientOption) DriveFactory {
	return func(ctx context.Context, tok *oauth2.Token) (Drive, error) {
		all := append([]option.ClientOption{option.WithHTTPClient(oauthCfg.Client(ctx, tok))}, opts...)
		svc, err := drive.NewService(ctx, all...)
		if err != nil {
			return nil, fmt.Errorf("create drive client: %w", err)
		}
		return &driveStore{svc: svc}, nil
	}
}

type gmailBox struct {
	svc *gmail.Service
}

func (g *gmailBox) Profile(ctx context.Context) (string, uint64, error) {
	p, err := g.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", 0, err
	}
	return p.EmailAddress, p.HistoryId, nil
}

func (g *gmailBox) Watch(ctx context.Context, topic string) (uint64, int64, error) {
	resp, err := g.svc.Users.Watch("me", &gmail.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return 0, 0, err
	}
	return resp.HistoryId, resp.Expiration, nil
}

// HistorySince walks history pages from the stored cursor and returns the
// added message ids plus the newest history id seen. Gmail drops history
// older than about a week; a 404 here means the cursor lapsed and the
// watch must be set up again.
func (g *gmailBox) HistorySince(ctx context.Context, startID uint64) ([]string, uint64, error) {
	var (
		ids    []string
		newest = startID
		page   string
	)
	seen := make(map[string]bool)
	for {
		call := g.svc.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if page != "" {
			call = call.PageToken(page)
		}
		resp, err := call.Do()
		if err != nil {
			var gErr *googleapi.Error
			if errors.As(err, &gErr) && gErr.Code == http.StatusNotFound {
				return nil, 0, apperr.ErrWatchExpired
			}
			return nil, 0, err
		}
		if resp.HistoryId > newest {
			newest = resp.HistoryId
		}
		for _, h := range resp.History {
			if h.Id > newest {
				newest = h.Id
			}
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				ids = append(ids, added.Message.Id)
			}
		}
		if resp.NextPageToken == "" {
			return ids, newest, nil
		}
		page = resp.NextPageToken
	}
}

func (g *gmailBox) Message(ctx context.Context, id string) (*InboundEmail, error) {
	msg, err := g.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	email := &InboundEmail{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				email.Subject = h.Value
			case "From":
				email.Sender = h.Value
			}
		}
		email.Body = extractBody(msg.Payload)
		collectAttachments(msg.Payload, &email.Attachments)
	}
	if email.Subject == "" {
		email.Subject = msg.Snippet
	}
	return email, nil
}

func (g *gmailBox) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := g.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return decodeWebSafe(body.Data)
}

func (g *gmailBox) Archive(ctx context.Context, messageID string) error {
	_, err := g.svc.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	return err
}

// extractBody prefers the text/plain part so keyword matching is not
// fighting markup; html is the fallback.
func extractBody(payload *gmail.MessagePart) string {
	plain, html := walkBody(payload)
	if plain != "" {
		return plain
	}
	return html
}

func walkBody(part *gmail.MessagePart) (plain, html string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		if decoded, err := decodeWebSafe(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				plain = string(decoded)
			case "text/html":
				html = string(decoded)
			}
		}
	}
	for _, child := range part.Parts {
		p, h := walkBody(child)
		if plain == "" {
			plain = p
		}
		if html == "" {
			html = h
		}
	}
	return plain, html
}

func collectAttachments(part *gmail.MessagePart, out *[]AttachmentRef) {
	if part == nil {
		return
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		*out = append(*out, AttachmentRef{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
		})
	}
	for _, child := range part.Parts {
		collectAttachments(child, out)
	}
}

// decodeWebSafe handles the Gmail API's url-safe base64, padded or not.
func decodeWebSafe(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

type driveStore struct {
	svc *drive.Service
}

const folderMime = "application/vnd.google-apps.folder"

func (d *driveStore) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), folderMime)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}
	list, err := d.svc.Files.List().Q(query).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}
	folder := &drive.File{Name: name, MimeType: folderMime}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	created, err := d.svc.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (d *driveStore) Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error) {
	file := &drive.File{Name: name}
	if folderID != "" {
		file.Parents = []string{folderID}
	}
	call := d.svc.Files.Create(file).Fields("id").Context(ctx)
	if mimeType != "" {
		call = call.Media(bytes.NewReader(data), googleapi.ContentType(mimeType))
	} else {
		call = call.Media(bytes.NewReader(data))
	}
	created, err := call.Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
