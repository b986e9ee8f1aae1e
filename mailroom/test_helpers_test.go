package mailroom

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/gateway"
)

type testEnv struct {
	Router  *fiber.App
	Service *Service
	Auth    *gateway.JWTAuth
	DB      *gorm.DB
	Box     *MockMailbox
	Drive   *MockDrive
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

// newGoogleTokenServer stands in for Google's token endpoint. A code of
// "used-code" gets the invalid_grant answer Google sends for replays,
// anything else exchanges into a fixed token pair.
func newGoogleTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("code") == "used-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","refresh_token":"rt-123","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	cfg := fields.Config{
		AccessSecret:     "test-access-secret",
		RefreshSecret:    "test-refresh-secret",
		AccessTTLMinutes: 15,
		RefreshTTLHours:  720,
		JWTIssuer:        "mediadesk",
		PubSubTopic:      "projects/mediadesk/topics/gmail",
		DriveRootFolder:  "Invoices",
		InvoiceKeywords:  []string{"invoice", "receipt", "payment due"},
		InvoiceDomains:   []string{"billing.example.com"},
	}

	auth := &gateway.JWTAuth{Config: cfg}
	auth.Init()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tokenSrv := newGoogleTokenServer(t)
	box := &MockMailbox{}
	drive := &MockDrive{}

	service := &Service{
		Db:     db,
		Config: cfg,
		Logger: logger,
		OAuth: &oauth2.Config{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			RedirectURL:  "http://localhost/oauth/google/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  tokenSrv.URL + "/auth",
				TokenURL: tokenSrv.URL + "/token",
			},
		},
		Mailbox: box.Factory(),
		Drive:   drive.Factory(),
	}

	r := fiber.New()
	r.Post("/oauth/google/callback", auth.AuthMiddleware(), service.GoogleCallback)
	r.Post("/email-automation/setup", auth.AuthMiddleware(), service.SetupWatch)
	r.Post("/pubsub/push", service.PubSubPush)

	return &testEnv{Router: r, Service: service, Auth: auth, DB: db, Box: box, Drive: drive}
}

func seedUser(t *testing.T, db *gorm.DB, email string) fields.User {
	t.Helper()
	user := fields.User{
		Email:      email,
		Username:   email,
		Password:   "unused-in-these-tests",
		IsVerified: true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func seedAccount(t *testing.T, db *gorm.DB, userID uint, email string, historyID uint64) fields.EmailAccount {
	t.Helper()
	account := fields.EmailAccount{
		UserID:    userID,
		Email:     email,
		HistoryID: historyID,
	}
	err := account.SetToken(&oauth2.Token{
		AccessToken:  "at-seed",
		TokenType:    "Bearer",
		RefreshToken: "rt-seed",
		Expiry:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("create email account: %v", err)
	}
	return account
}

func accessToken(t *testing.T, auth *gateway.JWTAuth, user fields.User) string {
	t.Helper()
	token, err := auth.GenerateJWT(user)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// pushEnvelope builds the JSON body Pub/Sub would POST for a Gmail watch
// notification.
func pushEnvelope(t *testing.T, email string, historyID uint64) string {
	t.Helper()
	note, err := json.Marshal(fields.GmailNotification{EmailAddress: email, HistoryID: historyID})
	if err != nil {
		t.Fatalf("encode notification: %v", err)
	}
	body, err := json.Marshal(fiber.Map{
		"message": fiber.Map{
			"data":        base64.StdEncoding.EncodeToString(note),
			"messageId":   "pubsub-1",
			"publishTime": time.Now().UTC().Format(time.RFC3339),
		},
		"subscription": "projects/mediadesk/subscriptions/gmail-push",
	})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return string(body)
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
