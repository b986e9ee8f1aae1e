package studio

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

func bindJSON(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return apperr.ErrEmptyBody
	}
	if err := json.Unmarshal(c.Body(), dst); err != nil {
		return apperr.Wrap(err, apperr.ErrBadRequest, "malformed json body")
	}
	if err := fields.ValidateStruct(dst); err != nil {
		return apperr.Wrap(err, apperr.ErrValidation, err.Error())
	}
	return nil
}

func parseJSON(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return apperr.ErrEmptyBody
	}
	return json.Unmarshal(c.Body(), dst)
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

func getEmail(c *fiber.Ctx) string {
	if v := c.Locals("email"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
