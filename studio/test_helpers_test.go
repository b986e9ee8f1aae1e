package studio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/gateway"
	"github.com/mediadesk/mediadesk/providers"
	"github.com/mediadesk/mediadesk/storage"
)

type testEnv struct {
	Router  *fiber.App
	Service *Service
	Auth    *gateway.JWTAuth
	DB      *gorm.DB
	Mail    *mailRecorder
	Runner  *Runner
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := fields.Migrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// mailRecorder captures every mail the service pushes through the gateway.
type mailRecorder struct {
	mu    sync.Mutex
	sent  []url.Values
	URL   string
	close func()
}

func newMailRecorder(t *testing.T) *mailRecorder {
	t.Helper()
	rec := &mailRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.sent = append(rec.sent, r.URL.Query())
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	rec.URL = server.URL + "?"
	return rec
}

func (m *mailRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mailRecorder) last() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

// fakeAI stubs the text generator with canned output.
type fakeAI struct {
	prompt string
	script string
	err    error
}

func (f *fakeAI) GeneratePrompt(ctx context.Context, brief, style string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.prompt, nil
}

func (f *fakeAI) GenerateScript(ctx context.Context, topic string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.script, nil
}

// fakeProvider scripts vendor behavior per test. The zero value submits
// into a pending state and stays pending on every poll.
type fakeProvider struct {
	kind   fields.MediaKind
	submit func(ctx context.Context, job *fields.GenerationJob, refs []fields.ReferenceImage) (providers.Submission, error)
	poll   func(ctx context.Context, job *fields.GenerationJob) (providers.Update, error)

	mu      sync.Mutex
	submits int
	polls   int
}

func (f *fakeProvider) Kind() fields.MediaKind { return f.kind }

func (f *fakeProvider) Submit(ctx context.Context, job *fields.GenerationJob, refs []fields.ReferenceImage) (providers.Submission, error) {
	f.mu.Lock()
	f.submits++
	f.mu.Unlock()
	if f.submit != nil {
		return f.submit(ctx, job, refs)
	}
	return providers.Submission{GenerationID: "gen-pending", Progress: 5}, nil
}

func (f *fakeProvider) Poll(ctx context.Context, job *fields.GenerationJob) (providers.Update, error) {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	if f.poll != nil {
		return f.poll(ctx, job)
	}
	return providers.Update{Progress: 50}, nil
}

func (f *fakeProvider) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeProvider) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	mail := newMailRecorder(t)

	cfg := fields.Config{
		AccessSecret:        "test-access-secret",
		RefreshSecret:       "test-refresh-secret",
		AccessTTLMinutes:    15,
		RefreshTTLHours:     720,
		JWTIssuer:           "mediadesk",
		OTPPeriodSeconds:    600,
		PollIntervalSeconds: 3600,
		BatchMaxRows:        400,
		MailGateway:         mail.URL,
		MailAPIKey:          "test-key",
		MailSender:          "noreply@mediadesk.app",
	}

	auth := &gateway.JWTAuth{Config: cfg}
	auth.Init()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := storage.New(filepath.Join(t.TempDir(), "media"), "/media")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	// the long tick keeps runner state out of http assertions: each task
	// acts once on start, then holds still for the rest of the test.
	runner := NewRunner(db, logger, map[fields.MediaKind]providers.Provider{
		fields.KindImage:  &fakeProvider{kind: fields.KindImage},
		fields.KindVideo:  &fakeProvider{kind: fields.KindVideo},
		fields.KindAvatar: &fakeProvider{kind: fields.KindAvatar},
	}, &cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		runner.Shutdown(ctx)
	})

	service := &Service{
		Db:     db,
		Config: cfg,
		Logger: logger,
		Auth:   auth,
		AI:     &fakeAI{prompt: "a cinematic wide shot", script: "hello from the studio"},
		Store:  store,
		Runner: runner,
	}

	r := fiber.New()
	r.Post("/auth/register", service.Register)
	r.Post("/auth/login", service.Login)
	r.Post("/auth/otp/generate", service.GenerateOTP)
	r.Post("/auth/otp/verify", service.VerifyOTP)
	r.Post("/auth/refresh", service.Refresh)
	r.Get("/auth/me", auth.AuthMiddleware(), service.Me)
	r.Patch("/auth/me", auth.AuthMiddleware(), service.UpdateMe)

	r.Post("/generate-image", auth.AuthMiddleware(), service.GenerateImage)
	r.Post("/generate-video", auth.AuthMiddleware(), service.GenerateVideo)
	r.Post("/generate-avatar", auth.AuthMiddleware(), service.GenerateAvatar)
	r.Post("/generate-prompt", auth.AuthMiddleware(), service.GeneratePrompt)
	r.Get("/image-status/:job_id", auth.AuthMiddleware(), service.ImageStatus)
	r.Get("/video-status/:job_id", auth.AuthMiddleware(), service.VideoStatus)
	r.Get("/avatar-status/:job_id", auth.AuthMiddleware(), service.AvatarStatus)
	r.Get("/jobs", auth.AuthMiddleware(), service.ListJobs)
	r.Post("/retry-job/:job_id", auth.AuthMiddleware(), service.RetryJob)
	r.Delete("/delete-job/:job_id", auth.AuthMiddleware(), service.DeleteJob)
	r.Post("/batch-generate", auth.AuthMiddleware(), service.BatchGenerate)

	return &testEnv{Router: r, Service: service, Auth: auth, DB: db, Mail: mail, Runner: runner}
}

func seedUser(t *testing.T, db *gorm.DB, email, password string) fields.User {
	t.Helper()
	user := fields.User{
		Email:      email,
		Username:   email,
		Password:   password,
		IsVerified: true,
	}
	if err := user.HashPassword(); err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	// the column defaults to true and gorm drops zero values on insert,
	// so the opt-out has to be written explicitly.
	if err := db.Model(&user).Update("is_otp_required", false).Error; err != nil {
		t.Fatalf("clear otp flag: %v", err)
	}
	user.IsOTPRequired = false
	return user
}

func seedJob(t *testing.T, db *gorm.DB, userID uint, kind fields.MediaKind, status fields.JobStatus) fields.GenerationJob {
	t.Helper()
	job := fields.NewGenerationJob(userID, kind, "seeded prompt", "{}")
	job.Status = status
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}
	return *job
}

func accessToken(t *testing.T, auth *gateway.JWTAuth, user fields.User) string {
	t.Helper()
	token, err := auth.GenerateJWT(user)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"meta"`
}

func doJSON(t *testing.T, app *fiber.App, method, target, token, body string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, raw)
	}
	return resp, env
}

// waitFor polls a condition until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
