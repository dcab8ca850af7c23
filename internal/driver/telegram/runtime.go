package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ex-fronter/pkg/fronter"
)

// BotTokenEnv supplies the bot token when the driver config leaves it empty.
const BotTokenEnv = "FRONTER_TELEGRAM_BOT_TOKEN"

const (
	defaultRuntimeSessionFile    = ".cache/telegram/session.json"
	defaultRuntimePublishTimeout = 2 * time.Minute
	defaultRuntimeAuthTimeout    = time.Minute
)

type runtimeConfig struct {
	AppID          int    `json:"app_id"`
	AppHash        string `json:"app_hash"`
	BotToken       string `json:"bot_token"`
	SessionFile    string `json:"session_file"`
	PublishTimeout string `json:"publish_timeout"`
	RPCTimeout     string `json:"rpc_timeout"`
	UpdateBuffer   int    `json:"update_buffer"`
	AuthTimeout    string `json:"auth_timeout"`
	MediaCacheSize int    `json:"media_cache_size"`
	FetchAttempts  int    `json:"fetch_attempts"`
	GotdLogLevel   string `json:"gotd_log_level"`
}

type parsedRuntimeConfig struct {
	appID          int
	appHash        string
	botToken       string
	sessionFile    string
	publishTimeout time.Duration
	rpcTimeout     time.Duration
	updateBuffer   int
	authTimeout    time.Duration
	mediaCacheSize int
	fetchAttempts  int
	gotdLogLevel   string
}

// BuildRuntimeFromConfig builds one telegram driver runtime from config payload.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (fronter.EventSource, fronter.Driver, fronter.SinkDispatcher, error) {
	cfg, err := parseRuntimeConfig(rawConfig, os.Getenv)
	if err != nil {
		return fronter.EventSource{}, nil, nil, errors.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)

	gotdLogger, err := newGotdLogger(cfg.gotdLogLevel)
	if err != nil {
		return fronter.EventSource{}, nil, nil, errors.Errorf("new gotd logger: %w", err)
	}

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return fronter.EventSource{}, nil, nil, errors.Errorf("new gotd session storage: %w", err)
	}

	updateChannel := NewGotdUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
		Logger:         gotdLogger,
	})

	peers := NewPeerCache()
	media := NewMediaCache(cfg.mediaCacheSize)

	source, err := NewGotdBotSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateGotdBot(ctx, logger, client, cfg)
			},
		},
		updateChannel,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers), WithMediaCache(media)),
		func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "telegram update skipped", "error", err)
		},
	)
	if err != nil {
		return fronter.EventSource{}, nil, nil, errors.Errorf("new gotd bot source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return fronter.EventSource{}, nil, nil, errors.Errorf("new telegram driver: %w", err)
	}

	sink, err := NewOutboundDispatcher(
		client,
		peers,
		media,
		WithOutboundTimeout(cfg.rpcTimeout),
		WithFetchAttempts(cfg.fetchAttempts),
		WithOutboundLogger(logger),
		WithSinkRef(fronter.EventSink{
			Platform: DriverPlatform,
			ID:       name,
		}),
	)
	if err != nil {
		return fronter.EventSource{}, nil, nil, errors.Errorf("new telegram sink dispatcher: %w", err)
	}

	return fronter.EventSource{
		Platform: DriverPlatform,
		ID:       name,
	}, driver, sink, nil
}

func parseRuntimeConfig(raw []byte, getenv func(string) string) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, errors.New("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, errors.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:          parsed.AppID,
		appHash:        strings.TrimSpace(parsed.AppHash),
		botToken:       strings.TrimSpace(parsed.BotToken),
		sessionFile:    strings.TrimSpace(parsed.SessionFile),
		publishTimeout: defaultRuntimePublishTimeout,
		rpcTimeout:     defaultOutboundTimeout,
		updateBuffer:   parsed.UpdateBuffer,
		authTimeout:    defaultRuntimeAuthTimeout,
		mediaCacheSize: parsed.MediaCacheSize,
		fetchAttempts:  parsed.FetchAttempts,
		gotdLogLevel:   strings.TrimSpace(parsed.GotdLogLevel),
	}
	if cfg.botToken == "" && getenv != nil {
		cfg.botToken = strings.TrimSpace(getenv(BotTokenEnv))
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "publish_timeout", raw: parsed.PublishTimeout, target: &cfg.publishTimeout},
		{field: "rpc_timeout", raw: parsed.RPCTimeout, target: &cfg.rpcTimeout},
		{field: "auth_timeout", raw: parsed.AuthTimeout, target: &cfg.authTimeout},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedRuntimeConfig{}, errors.Errorf("parse %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, errors.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.target = parsedDuration
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, errors.New("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, errors.New("app_hash is required")
	}
	if cfg.botToken == "" {
		return parsedRuntimeConfig{}, errors.Errorf("bot_token is required (or set %s)", BotTokenEnv)
	}
	if cfg.updateBuffer < 0 || cfg.mediaCacheSize < 0 || cfg.fetchAttempts < 0 {
		return parsedRuntimeConfig{}, errors.New("update_buffer, media_cache_size and fetch_attempts must be >= 0")
	}
	if cfg.gotdLogLevel != "" {
		if _, err := zapcore.ParseLevel(cfg.gotdLogLevel); err != nil {
			return parsedRuntimeConfig{}, errors.Errorf("parse gotd_log_level: %w", err)
		}
	}

	return cfg, nil
}

// newGotdLogger builds the zap logger handed to gotd. An empty level keeps
// gotd silent.
func newGotdLogger(level string) (*zap.Logger, error) {
	if level == "" {
		return zap.NewNop(), nil
	}

	parsedLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Errorf("parse level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsedLevel)
	config.Sampling = nil
	config.OutputPaths = []string{"stderr"}
	logger, err := config.Build()
	if err != nil {
		return nil, errors.Errorf("build zap logger: %w", err)
	}

	return logger.Named("gotd"), nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, errors.New("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, errors.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, errors.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes client runtime and performs authentication before invoking fn.
func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return errors.New("run gotd authenticated client: nil client")
	}
	if c.authenticate == nil {
		return errors.New("run gotd authenticated client: nil authenticate callback")
	}
	if fn == nil {
		return errors.New("run gotd authenticated client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return errors.Errorf("authenticate gotd client: %w", err)
		}
		if err := fn(runCtx); err != nil {
			return errors.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return errors.Errorf("run gotd authenticated client: %w", err)
	}

	return nil
}

// gotdAuth is the part of gotd's auth client the bot login needs.
type gotdAuth interface {
	Status(ctx context.Context) (*gotdAuthStatus, error)
	Bot(ctx context.Context, token string) error
}

// gotdAuthStatus mirrors the field of gotd's auth status the login reads.
type gotdAuthStatus struct {
	Authorized bool
}

type gotdClientAuth struct {
	client *gotdtelegram.Client
}

func (a gotdClientAuth) Status(ctx context.Context) (*gotdAuthStatus, error) {
	status, err := a.client.Auth().Status(ctx)
	if err != nil {
		return nil, err
	}

	return &gotdAuthStatus{Authorized: status.Authorized}, nil
}

func (a gotdClientAuth) Bot(ctx context.Context, token string) error {
	_, err := a.client.Auth().Bot(ctx, token)
	return err
}

func authenticateGotdBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) error {
	if client == nil {
		return errors.New("authenticate gotd bot: nil client")
	}

	return loginBot(ctx, logger, gotdClientAuth{client: client}, cfg)
}

// loginBot restores a stored session or signs in with the bot token.
func loginBot(ctx context.Context, logger *slog.Logger, auth gotdAuth, cfg parsedRuntimeConfig) error {
	authCtx := ctx
	cancel := func() {}
	if cfg.authTimeout > 0 {
		authCtx, cancel = context.WithTimeout(ctx, cfg.authTimeout)
	}
	defer cancel()

	status, err := auth.Status(authCtx)
	if err != nil {
		return errors.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", cfg.sessionFile)
		return nil
	}

	if err := auth.Bot(authCtx, cfg.botToken); err != nil {
		return errors.Errorf("authenticate bot: %w", err)
	}
	logger.InfoContext(ctx, "telegram authorized with bot token", "session_file", cfg.sessionFile)

	return nil
}
