// Package studio contains the generative-media apis: account auth, the
// per-kind generation endpoints (image, video, avatar), prompt tooling,
// batch submission, and the runner that drives queued jobs against their
// vendors until they complete or fail.
package studio

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/fields"
	gateway "github.com/mediadesk/mediadesk/gateway"
	"github.com/mediadesk/mediadesk/storage"
)

// Auther abstracts token issuance so handlers can be tested against a
// stub.
type Auther interface {
	GenerateJWT(user fields.User) (string, error)
	GenerateRefresh(user fields.User) (string, error)
	VerifyJWT(token string) (*gateway.TokenClaims, error)
	VerifyRefresh(token string) (*gateway.TokenClaims, error)
}

// TextGenerator is the text vendor behind /generate-prompt and avatar
// script drafting.
type TextGenerator interface {
	GeneratePrompt(ctx context.Context, brief, style string) (string, error)
	GenerateScript(ctx context.Context, topic string) (string, error)
}

// Service carries every dependency the studio handlers touch.
type Service struct {
	Db     *gorm.DB
	Redis  *redis.Client
	Config fields.Config
	Logger *logrus.Logger
	Auth   Auther
	AI     TextGenerator
	Store  *storage.Store
	Runner *Runner
}
