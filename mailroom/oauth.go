package mailroom

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

// GoogleCallback finishes the OAuth dance: the authorization code arrives
// from the frontend (body or query), is exchanged for a token pair, and
// the mailbox it belongs to is linked to the calling user. Google burns a
// code on first use, so a replayed code gets its own error code instead
// of a generic 401 and the frontend can stop resubmitting it.
func (s *Service) GoogleCallback(c *fiber.Ctx) error {
	var req fields.OAuthCallbackRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return fields.RespondError(c, apperr.Wrap(err, apperr.ErrBadRequest, "malformed json body"))
		}
	}
	if req.Code == "" {
		req.Code = c.Query("code")
	}
	if req.Code == "" {
		return fields.RespondError(c, apperr.Wrap(errors.New("code"), apperr.ErrValidation, "authorization code is required"))
	}

	ctx := c.UserContext()
	tok, err := s.OAuth.Exchange(ctx, req.Code)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.ErrorCode == "invalid_grant" {
			return fields.RespondError(c, apperr.ErrOAuthCodeConsumed)
		}
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrUnauthorized, "code exchange failed"))
	}

	box, err := s.Mailbox(ctx, tok)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "open mailbox"))
	}
	email, historyID, err := box.Profile(ctx)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrVendor, "read gmail profile"))
	}

	account := &fields.EmailAccount{
		UserID:    getUserID(c),
		Email:     email,
		HistoryID: historyID,
	}
	if err := account.SetToken(tok); err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrMarshal, "encode oauth token"))
	}
	if err := fields.UpsertEmailAccount(account, s.Db); err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "store email account"))
	}

	s.Logger.WithFields(map[string]interface{}{
		"email":   email,
		"user_id": account.UserID,
	}).Info("mailbox linked")
	return fields.Respond(c, http.StatusOK, fiber.Map{
		"email":      email,
		"history_id": historyID,
	})
}
