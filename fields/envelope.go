package fields

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediadesk/mediadesk/apperr"
)

// Meta carries the status code and a short machine-or-human message next to
// every payload. One envelope shape for the whole API.
type Meta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Envelope is the canonical response wrapper: {"data": ..., "meta": {...}}.
type Envelope struct {
	Data interface{} `json:"data"`
	Meta Meta        `json:"meta"`
}

// Respond writes a success envelope.
func Respond(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(Envelope{
		Data: data,
		Meta: Meta{Code: status, Message: "ok"},
	})
}

// RespondMessage writes a success envelope with an explicit message.
func RespondMessage(c *fiber.Ctx, status int, data interface{}, message string) error {
	return c.Status(status).JSON(Envelope{
		Data: data,
		Meta: Meta{Code: status, Message: message},
	})
}

// RespondError maps any error onto the envelope; apperr errors keep their
// status and snake_case code, everything else collapses to a 500. The code
// rides in meta.message ahead of the human text so clients can switch on it.
func RespondError(c *fiber.Ctx, err error) error {
	status := apperr.Status(err)
	code := apperr.Code(err)
	message := apperr.Message(err)
	if message != "" && message != code {
		message = code + ": " + message
	} else {
		message = code
	}
	return c.Status(status).JSON(Envelope{
		Data: nil,
		Meta: Meta{Code: status, Message: message},
	})
}
