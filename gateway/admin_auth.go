package gateway

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminAuthConfig controls access to the ops endpoints. Configured is true
// when at least one credential scheme is usable.
type AdminAuthConfig struct {
	Key      string
	User     string
	Password string
	Debug    bool
}

func (cfg AdminAuthConfig) Configured() bool {
	return cfg.Key != "" || (cfg.User != "" && cfg.Password != "")
}

// RequireAdmin guards ops endpoints with X-Admin-Key or HTTP Basic auth on
// top of the usual bearer token. Debug deployments skip the guard.
func RequireAdmin(cfg AdminAuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Debug {
			return c.Next()
		}
		if !cfg.Configured() {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"message": "admin auth not configured", "code": "admin_auth_not_configured",
			})
		}

		if cfg.Key != "" {
			key := strings.TrimSpace(c.Get("X-Admin-Key"))
			if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Key)) == 1 {
				return c.Next()
			}
		}
		if cfg.User != "" && cfg.Password != "" {
			if checkBasicAuth(c.Get("Authorization"), cfg.User, cfg.Password) {
				return c.Next()
			}
		}
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"message": "admin credentials required", "code": "unauthorized",
		})
	}
}

func checkBasicAuth(header, user, pass string) bool {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "basic") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
	if err != nil {
		return false
	}
	creds := strings.SplitN(string(decoded), ":", 2)
	if len(creds) != 2 {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(creds[0]), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds[1]), []byte(pass)) == 1
	return userOK && passOK
}
