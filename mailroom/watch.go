package mailroom

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

// SetupWatch registers (or renews) the Gmail push watch for the caller's
// linked mailbox. Gmail anchors the watch at the mailbox's current history
// id, so the stored cursor is moved along with it.
func (s *Service) SetupWatch(c *fiber.Ctx) error {
	account, err := s.account(c)
	if err != nil {
		return fields.RespondError(c, err)
	}
	var req fields.SetupWatchRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return fields.RespondError(c, apperr.Wrap(err, apperr.ErrBadRequest, "malformed json body"))
		}
	}
	topic := req.TopicName
	if topic == "" {
		topic = s.Config.PubSubTopic
	}
	if topic == "" {
		return fields.RespondError(c, apperr.Wrap(errors.New("topic"), apperr.ErrValidation, "no pub/sub topic configured"))
	}

	tok, err := account.Token()
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "decode stored token"))
	}
	ctx := c.UserContext()
	box, err := s.Mailbox(ctx, tok)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "open mailbox"))
	}
	historyID, expiration, err := box.Watch(ctx, topic)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrVendor, "register gmail watch"))
	}
	if err := account.SetWatch(s.Db, historyID, expiration, topic); err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "store watch"))
	}

	s.Logger.WithFields(map[string]interface{}{
		"email":      account.Email,
		"history_id": historyID,
	}).Info("gmail watch registered")
	return fields.Respond(c, http.StatusOK, fiber.Map{
		"email":      account.Email,
		"history_id": historyID,
		"expiration": expiration,
		"topic":      topic,
	})
}

// PubSubPush receives Gmail notifications from the Pub/Sub push
// subscription. Only a malformed envelope earns a 400; every decodable
// notification is acked with a 2xx, because the history cursor, not
// redelivery, is what guarantees no message is missed, and a non-2xx
// would have Pub/Sub hammering a subscription that cannot make progress.
func (s *Service) PubSubPush(c *fiber.Ctx) error {
	var push fields.PubSubPush
	if err := json.Unmarshal(c.Body(), &push); err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrBadRequest, "malformed push envelope"))
	}
	if push.Message.Data == "" {
		return fields.RespondError(c, apperr.Wrap(errors.New("empty message data"), apperr.ErrBadRequest, "malformed push envelope"))
	}
	raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrBadRequest, "malformed push payload"))
	}
	var note fields.GmailNotification
	if err := json.Unmarshal(raw, &note); err != nil || note.EmailAddress == "" {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrBadRequest, "malformed gmail notification"))
	}

	log := s.Logger.WithFields(map[string]interface{}{
		"email":      note.EmailAddress,
		"history_id": note.HistoryID,
	})

	account, err := fields.GetEmailAccountByEmail(note.EmailAddress, s.Db)
	if err != nil {
		log.Warn("notification for an unlinked mailbox")
		return fields.RespondMessage(c, http.StatusOK, nil, "no such mailbox")
	}
	if note.HistoryID <= account.HistoryID {
		return fields.RespondMessage(c, http.StatusOK, fiber.Map{"archived": 0}, "already processed")
	}

	archived, newest, err := s.processHistory(c.UserContext(), &account)
	if err != nil {
		if errors.Is(err, apperr.ErrWatchExpired) {
			log.Error("history cursor lapsed, watch setup required")
			return fields.RespondMessage(c, http.StatusOK, nil, "watch expired")
		}
		log.WithField("error", err.Error()).Error("history pass failed")
		return fields.RespondMessage(c, http.StatusOK, nil, "processing deferred")
	}
	if newest < note.HistoryID {
		newest = note.HistoryID
	}
	if err := account.AdvanceHistory(s.Db, newest); err != nil {
		log.WithField("error", err.Error()).Error("cursor write failed")
	}
	if archived > 0 {
		log.WithField("archived", archived).Info("invoice emails archived")
	}
	return fields.Respond(c, http.StatusOK, fiber.Map{"archived": archived})
}
