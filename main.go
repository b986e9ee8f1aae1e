package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	gmailapi "google.golang.org/api/gmail/v1"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/dashboard"
	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/gateway"
	"github.com/mediadesk/mediadesk/mailroom"
	"github.com/mediadesk/mediadesk/providers"
	"github.com/mediadesk/mediadesk/storage"
	"github.com/mediadesk/mediadesk/studio"
	"github.com/mediadesk/mediadesk/utils"
)

const shutdownTimeout = 10 * time.Second

var (
	cfg            fields.Config
	logrusLogger   = logrus.New()
	db             *gorm.DB
	redisClient    *redis.Client
	auth           gateway.JWTAuth
	mediaStore     *storage.Store
	runner         *studio.Runner
	studioService  studio.Service
	mailService    mailroom.Service
	dashService    dashboard.Service
	logSampling    gateway.LogSamplingConfig
	started        = time.Now()
	otelShutdown   func(context.Context) error
	otelEnabled    bool
)

func isTestRun() bool {
	return strings.HasSuffix(os.Args[0], ".test")
}

const (
	defaultConfigPath  = "/app/config.yaml"
	defaultSecretsPath = "/app/secrets.yaml"
)

func firstExistingPath(paths ...string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadConfig reads config.yaml, overlays the optional secrets.yaml and
// returns the "mediadesk" section as JSON ready for unmarshaling into
// fields.Config. Test binaries run without any config file.
func loadConfig() ([]byte, error) {
	configPath := firstExistingPath(defaultConfigPath, "./config.yaml", "../config.yaml")
	if configPath == "" {
		if isTestRun() {
			return []byte("{}"), nil
		}
		return nil, errors.New("config.yaml not found")
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	configMap := map[string]interface{}{}
	if err := yaml.Unmarshal(configData, &configMap); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	secretsMap := map[string]interface{}{}
	secretsPath := firstExistingPath(defaultSecretsPath, "./secrets.yaml", "../secrets.yaml")
	if secretsPath != "" {
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			return nil, fmt.Errorf("read secrets: %w", err)
		}
		if err := yaml.Unmarshal(secretsData, &secretsMap); err != nil {
			return nil, fmt.Errorf("parse secrets yaml: %w", err)
		}
		logrusLogger.Printf("Loaded secrets from %s", secretsPath)
	}

	merged, ok := mergeConfig(configMap, secretsMap).(map[string]interface{})
	if !ok {
		return nil, errors.New("merged config is not a map")
	}
	section := getMap(merged, "mediadesk")
	if section == nil {
		section = map[string]interface{}{}
	}

	payload, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("encode mediadesk config: %w", err)
	}
	logrusLogger.Printf("Loaded config from %s", configPath)
	return payload, nil
}

// mergeConfig overlays override onto base, descending into maps. Empty
// strings and empty lists in the override keep the base value.
func mergeConfig(base, override interface{}) interface{} {
	if override == nil {
		return base
	}
	switch overrideTyped := override.(type) {
	case map[string]interface{}:
		baseMap, ok := base.(map[string]interface{})
		if !ok {
			baseMap = map[string]interface{}{}
		}
		result := map[string]interface{}{}
		for key, value := range baseMap {
			result[key] = value
		}
		for key, value := range overrideTyped {
			result[key] = mergeConfig(result[key], value)
		}
		return result
	case []interface{}:
		if len(overrideTyped) == 0 {
			return base
		}
		return overrideTyped
	case string:
		if overrideTyped == "" {
			return base
		}
		return overrideTyped
	default:
		return override
	}
}

func getMap(source map[string]interface{}, key string) map[string]interface{} {
	if source == nil {
		return nil
	}
	if typed, ok := source[key].(map[string]interface{}); ok {
		return typed
	}
	return nil
}

func init() {
	var err error

	configData, err := loadConfig()
	if err != nil {
		logrusLogger.Fatalf("error loading config: %v", err)
	}
	if err := json.Unmarshal(configData, &cfg); err != nil {
		logrusLogger.Fatalf("error in unmarshaling config file: %v", err)
	}
	cfg.Defaults()
	configureLogger(cfg)

	dbPath := cfg.DatabasePath
	if isTestRun() {
		if tmp, err := os.CreateTemp("", "mediadesk-test-*.db"); err == nil {
			dbPath = tmp.Name()
			_ = tmp.Close()
		}
	}
	db, err = fields.OpenFromConfig(cfg.DatabaseURL, dbPath, cfg.DatabaseDriver)
	if err != nil {
		logrusLogger.Fatalf("error in connecting to db: %v", err)
	}
	if err := fields.Migrate(db); err != nil {
		logrusLogger.Fatalf("error in migrations: %v", err)
	}

	redisClient = utils.NewRedisClient(&cfg)

	auth = gateway.JWTAuth{Config: cfg}
	auth.Init()

	mediaStore, err = storage.New(cfg.MediaDir, "/media")
	if err != nil {
		logrusLogger.Fatalf("error opening media store: %v", err)
	}

	openai := providers.NewOpenAI(&cfg, logrusLogger)
	provs := map[fields.MediaKind]providers.Provider{
		fields.KindImage:  providers.NewNanoBanana(&cfg, logrusLogger, mediaStore),
		fields.KindVideo:  providers.NewVeo(&cfg, logrusLogger, mediaStore),
		fields.KindAvatar: providers.NewHeyGen(db, &cfg, logrusLogger, mediaStore),
	}
	runner = studio.NewRunner(db, logrusLogger, provs, &cfg)

	studioService = studio.Service{
		Db:     db,
		Redis:  redisClient,
		Config: cfg,
		Logger: logrusLogger,
		Auth:   &auth,
		AI:     openai,
		Store:  mediaStore,
		Runner: runner,
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			gmailapi.GmailModifyScope,
			driveapi.DriveFileScope,
		},
	}
	mailService = mailroom.Service{
		Db:      db,
		Redis:   redisClient,
		Config:  cfg,
		Logger:  logrusLogger,
		OAuth:   oauthCfg,
		Mailbox: mailroom.NewMailboxFactory(oauthCfg),
		Drive:   mailroom.NewDriveFactory(oauthCfg),
	}

	dashService = dashboard.Service{
		Db:      db,
		Logger:  logrusLogger,
		Started: started,
		Active:  runner.ActiveTasks,
	}

	initOTel(context.Background(), cfg, logrusLogger)
}

func main() {
	if otelShutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
			defer cancel()
			if err := otelShutdown(ctx); err != nil {
				logrusLogger.WithError(err).Warn("otel shutdown failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if resumed := runner.Resume(); resumed > 0 {
		logrusLogger.WithField("jobs", resumed).Info("resumed unfinished jobs")
	}

	app := GetMainEngine()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runner.Shutdown(shutdownCtx); err != nil {
			logrusLogger.WithError(err).Warn("runner shutdown incomplete")
		}
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logrusLogger.WithError(err).Warn("http shutdown failed")
		}
	}()

	if err := app.Listen(cfg.Port); err != nil {
		logrusLogger.Fatal(err)
	}
}
