package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mediadesk/mediadesk/fields"
)

var log = logrus.New()

// NewRedisClient returns a *redis.Client built from the service config.
func NewRedisClient(cfg *fields.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Mail is one transactional message (OTP codes, verification notes).
type Mail struct {
	To      string
	Subject string
	Body    string
}

var mailClient = &http.Client{Timeout: 10 * time.Second}

// SendMail pushes a message through the configured HTTP mail gateway.
// Callers fire it in a goroutine; a missing gateway makes it a no-op so
// development setups work without one.
func SendMail(cfg *fields.Config, mail Mail) error {
	if cfg.MailGateway == "" {
		log.WithFields(logrus.Fields{"to": mail.To}).Info("mail gateway not configured, dropping mail")
		return nil
	}
	v := url.Values{}
	v.Set("api_key", cfg.MailAPIKey)
	v.Set("from", cfg.MailSender)
	v.Set("to", mail.To)
	v.Set("subject", mail.Subject)
	v.Set("body", mail.Body)

	endpoint := cfg.MailGateway
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + v.Encode()
	} else {
		endpoint += "?" + v.Encode()
	}
	resp, err := mailClient.Get(endpoint)
	if err != nil {
		log.WithFields(logrus.Fields{
			"to":    mail.To,
			"error": err.Error(),
		}).Error("mail gateway unreachable")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.WithFields(logrus.Fields{
			"to":     mail.To,
			"status": resp.StatusCode,
		}).Error("mail gateway rejected the message")
		return fmt.Errorf("mail gateway status %s", resp.Status)
	}
	return nil
}
