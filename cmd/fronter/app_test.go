package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ex-fronter/internal/driver"
	"ex-fronter/internal/kernel"
	"ex-fronter/internal/roster"
	"ex-fronter/pkg/fronter"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func newTestRegistry(t *testing.T) *driver.Registry {
	t.Helper()

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry: %v", err)
	}

	return registry
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfigJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bot.json")
	writeConfigFile(t, configPath, `{
		"log_level":"warn",
		"log_format":"text",
		"kernel":{
			"module_hook_timeout":"7s",
			"shutdown_timeout":"15s",
			"handler_timeout":"45s",
			"subscription_buffer":64,
			"subscription_workers":2
		},
		"storage":{"type":"sqlite"},
		"proxy":{"attachment_caption":"{name} shared:","default_color":"#00ff00"},
		"drivers":[
			{"name":"tg-main","type":"telegram","config":{"app_id":1,"app_hash":"h","bot_token":"1:a"}},
			{"name":"tg-spare","type":"telegram","enabled":false,"config":{}}
		]
	}`)
	t.Setenv(envConfigFile, configPath)

	cfg, err := loadConfig(newTestRegistry(t))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.logLevel != slog.LevelWarn || cfg.logFormat != logFormatText {
		t.Fatalf("log = (%v, %s), want (warn, text)", cfg.logLevel, cfg.logFormat)
	}
	if cfg.moduleHookTimeout != 7*time.Second || cfg.shutdownTimeout != 15*time.Second {
		t.Fatalf("hook/shutdown = %v/%v", cfg.moduleHookTimeout, cfg.shutdownTimeout)
	}
	if cfg.handlerTimeout != 45*time.Second || cfg.interceptorTimeout != defaultInterceptorTimeout {
		t.Fatalf("handler/interceptor = %v/%v", cfg.handlerTimeout, cfg.interceptorTimeout)
	}
	if cfg.subscriptionBuffer != 64 || cfg.subscriptionWorkers != 2 {
		t.Fatalf("buffer/workers = %d/%d", cfg.subscriptionBuffer, cfg.subscriptionWorkers)
	}
	if cfg.storageType != storageTypeSQLite || cfg.storagePath != "data.db" {
		t.Fatalf("storage = %s %s, want sqlite data.db", cfg.storageType, cfg.storagePath)
	}
	if cfg.attachmentCaption != "{name} shared:" || cfg.defaultColor != 0x00FF00 {
		t.Fatalf("proxy = %q %s", cfg.attachmentCaption, cfg.defaultColor.Hex())
	}

	names := make([]string, 0, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		names = append(names, definition.Name)
	}
	if diff := cmp.Diff([]string{"tg-main", "tg-spare"}, names); diff != "" {
		t.Fatalf("drivers mismatch (-want +got):\n%s", diff)
	}
	if cfg.drivers[1].Enabled {
		t.Fatal("tg-spare should be disabled")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bot.yaml")
	writeConfigFile(t, configPath, `
log_level: debug
storage:
  type: json
  path: state/roster.json
drivers:
  - name: tg-main
    type: telegram
    config:
      app_id: 1
      app_hash: hash
      session_file: state/session.json
`)
	t.Setenv(envConfigFile, configPath)

	cfg, err := loadConfig(newTestRegistry(t))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.logLevel != slog.LevelDebug || cfg.logFormat != logFormatJSON {
		t.Fatalf("log = (%v, %s), want (debug, json)", cfg.logLevel, cfg.logFormat)
	}
	if cfg.storageType != storageTypeJSON || cfg.storagePath != "state/roster.json" {
		t.Fatalf("storage = %s %s", cfg.storageType, cfg.storagePath)
	}
	if len(cfg.drivers) != 1 {
		t.Fatalf("drivers = %d, want 1", len(cfg.drivers))
	}
	if !strings.Contains(string(cfg.drivers[0].Config), `"session_file":"state/session.json"`) {
		t.Fatalf("driver config = %s, want normalized json", cfg.drivers[0].Config)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	driverEntry := `"drivers":[{"name":"tg","type":"telegram","config":{"app_id":1}}]`

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bad log level", body: `{"log_level":"loud",` + driverEntry + `}`, wantErr: "log_level"},
		{name: "bad log format", body: `{"log_format":"xml",` + driverEntry + `}`, wantErr: "log_format"},
		{name: "bad duration", body: `{"kernel":{"shutdown_timeout":"soon"},` + driverEntry + `}`, wantErr: "kernel.shutdown_timeout"},
		{name: "zero duration", body: `{"kernel":{"handler_timeout":"0s"},` + driverEntry + `}`, wantErr: "must be > 0"},
		{name: "bad buffer", body: `{"kernel":{"subscription_buffer":0},` + driverEntry + `}`, wantErr: "subscription_buffer"},
		{name: "bad storage", body: `{"storage":{"type":"redis"},` + driverEntry + `}`, wantErr: "storage.type"},
		{name: "bad color", body: `{"proxy":{"default_color":"blue"},` + driverEntry + `}`, wantErr: "proxy.default_color"},
		{name: "missing driver config", body: `{"drivers":[{"name":"tg","type":"telegram"}]}`, wantErr: "drivers[0].config"},
		{name: "no enabled driver", body: `{"drivers":[{"name":"tg","type":"telegram","enabled":false,"config":{}}]}`, wantErr: "at least one enabled driver"},
		{name: "unknown driver type", body: `{"drivers":[{"name":"x","type":"discord","config":{}}]}`, wantErr: "unsupported type"},
		{name: "duplicate driver", body: `{"drivers":[{"name":"tg","type":"telegram","config":{}},{"name":"tg","type":"telegram","config":{}}]}`, wantErr: "duplicate name"},
		{name: "malformed json", body: `{`, wantErr: "parse config file"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "bot.json")
			writeConfigFile(t, configPath, testCase.body)
			t.Setenv(envConfigFile, configPath)

			_, err := loadConfig(newTestRegistry(t))
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, testCase.wantErr)
			}
		})
	}
}

func TestResolveConfigFilePath(t *testing.T) {
	t.Setenv(envConfigFile, "")
	t.Chdir(t.TempDir())

	if _, err := resolveConfigFilePath(); err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("error = %v, want not found", err)
	}

	writeConfigFile(t, yamlConfigFilePath, "drivers: []\n")
	path, err := resolveConfigFilePath()
	if err != nil || path != yamlConfigFilePath {
		t.Fatalf("path = (%q, %v), want %q", path, err, yamlConfigFilePath)
	}

	writeConfigFile(t, defaultConfigFilePath, "{}")
	path, err = resolveConfigFilePath()
	if err != nil || path != defaultConfigFilePath {
		t.Fatalf("path = (%q, %v), want %q", path, err, defaultConfigFilePath)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var jsonOut bytes.Buffer
	newLogger(&jsonOut, appConfig{logLevel: slog.LevelInfo, logFormat: logFormatJSON}).Info("hello", "k", "v")
	if !strings.Contains(jsonOut.String(), `"msg":"hello"`) {
		t.Fatalf("json output = %q", jsonOut.String())
	}

	var textOut bytes.Buffer
	textLogger := newLogger(&textOut, appConfig{logLevel: slog.LevelWarn, logFormat: logFormatText})
	textLogger.Info("hidden")
	textLogger.Warn("shown")
	if strings.Contains(textOut.String(), "hidden") || !strings.Contains(textOut.String(), "msg=shown") {
		t.Fatalf("text output = %q", textOut.String())
	}
}

func TestOpenRoster(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		storageType string
		file        string
	}{
		{name: "json", storageType: storageTypeJSON, file: "data.json"},
		{name: "sqlite", storageType: storageTypeSQLite, file: "data.db"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
			cfg := appConfig{
				storageType: testCase.storageType,
				storagePath: filepath.Join(t.TempDir(), testCase.file),
			}

			store, closeStore, err := openRoster(ctx, logger, cfg)
			if err != nil {
				t.Fatalf("open roster: %v", err)
			}
			if _, err := store.AddMember(ctx, "u1", roster.Member{Name: "Alice", Color: "#FF0000"}); err != nil {
				t.Fatalf("add member: %v", err)
			}
			if err := closeStore(); err != nil {
				t.Fatalf("close roster: %v", err)
			}

			reopened, closeReopened, err := openRoster(ctx, logger, cfg)
			if err != nil {
				t.Fatalf("reopen roster: %v", err)
			}
			defer func() { _ = closeReopened() }()

			want := []roster.Member{{Name: "Alice", Color: "#FF0000"}}
			if diff := cmp.Diff(want, reopened.ListMembers("u1")); diff != "" {
				t.Fatalf("roster mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegisterRuntimeModules(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("registers every module after services", func(t *testing.T) {
		t.Parallel()

		kernelRuntime := kernel.New(kernel.WithLogger(logger))
		defer closeBus(t, kernelRuntime)

		if err := registerRuntimeServices(kernelRuntime, logger, nopDispatcher{}, roster.NewStore(nil, logger)); err != nil {
			t.Fatalf("register services: %v", err)
		}
		if err := registerRuntimeModules(context.Background(), kernelRuntime, defaultAppConfig()); err != nil {
			t.Fatalf("register modules: %v", err)
		}

		if _, err := kernelRuntime.Services().Resolve(fronter.ServicePresenceReporter); err != nil {
			t.Fatalf("presence reporter: %v", err)
		}
		catalog, err := fronter.ResolveAs[fronter.CommandCatalog](kernelRuntime.Services(), fronter.ServiceCommandCatalog)
		if err != nil {
			t.Fatalf("command catalog: %v", err)
		}
		commands, err := catalog.ListCommands(context.Background())
		if err != nil {
			t.Fatalf("list commands: %v", err)
		}
		if len(commands) != 8 {
			t.Fatalf("commands = %d, want 8", len(commands))
		}
	})

	t.Run("fails without roster service", func(t *testing.T) {
		t.Parallel()

		kernelRuntime := kernel.New(kernel.WithLogger(logger))
		defer closeBus(t, kernelRuntime)

		if err := kernelRuntime.RegisterService(fronter.ServiceSinkDispatcher, nopDispatcher{}); err != nil {
			t.Fatalf("register dispatcher: %v", err)
		}
		err := registerRuntimeModules(context.Background(), kernelRuntime, defaultAppConfig())
		if err == nil || !strings.Contains(err.Error(), "register presence module") {
			t.Fatalf("error = %v, want presence registration failure", err)
		}
	})
}

func TestCommandTakesEffectBeforeNextMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	store := roster.NewStore(nil, logger)
	if _, err := store.AddMember(ctx, "u1", roster.Member{Name: "Alice", Color: "#FF0000"}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	kernelRuntime := kernel.New(kernel.WithLogger(logger))
	defer closeBus(t, kernelRuntime)
	sink := &recordingSink{}
	if err := registerRuntimeServices(kernelRuntime, logger, sink, store); err != nil {
		t.Fatalf("register services: %v", err)
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, defaultAppConfig()); err != nil {
		t.Fatalf("register modules: %v", err)
	}

	inbound := kernelRuntime.InboundDispatcher()
	for idx, text := range []string{"E!switch_member alice", "hello", "E!toggle_proxy", "still me"} {
		event := &fronter.Event{
			ID:           "telegram:m" + string(rune('1'+idx)),
			Kind:         fronter.EventKindMessageCreated,
			OccurredAt:   time.Unix(int64(idx+1), 0).UTC(),
			Source:       fronter.EventSource{Platform: fronter.PlatformTelegram, ID: "tg-main"},
			Conversation: fronter.Conversation{ID: "chat-1", Type: fronter.ConversationTypeGroup},
			Actor:        fronter.Actor{ID: "u1"},
			Message:      &fronter.Message{ID: "m" + string(rune('1'+idx)), Text: text},
		}
		if err := inbound.Publish(ctx, event); err != nil {
			t.Fatalf("publish %q: %v", text, err)
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if diff := cmp.Diff([]string{"hello", "E!toggle_proxy"}, sink.relayed); diff != "" {
		t.Fatalf("relayed bodies mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"m2", "m3"}, sink.deleted); diff != "" {
		t.Fatalf("deleted originals mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Fronting as Alice", "Not fronting"}, sink.presence); diff != "" {
		t.Fatalf("presence mismatch (-want +got):\n%s", diff)
	}
}

func closeBus(t *testing.T, kernelRuntime *kernel.Kernel) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := kernelRuntime.EventBus().Close(ctx); err != nil {
		t.Fatalf("close bus: %v", err)
	}
}

type nopDispatcher struct{}

func (nopDispatcher) SendMessage(_ context.Context, request fronter.SendMessageRequest) (*fronter.OutboundMessage, error) {
	return &fronter.OutboundMessage{ID: "1", Target: request.Target}, nil
}

func (nopDispatcher) DeleteMessage(context.Context, fronter.DeleteMessageRequest) error {
	return nil
}

func (nopDispatcher) FetchAttachment(context.Context, fronter.FetchAttachmentRequest) ([]byte, error) {
	return nil, nil
}

func (nopDispatcher) SetPresence(context.Context, fronter.SetPresenceRequest) error {
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	relayed  []string
	deleted  []string
	presence []string
}

func (s *recordingSink) SendMessage(_ context.Context, request fronter.SendMessageRequest) (*fronter.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if request.Card != nil && request.Card.AuthorName == "Alice" {
		s.relayed = append(s.relayed, request.Card.Description)
	}

	return &fronter.OutboundMessage{ID: "out", Target: request.Target}, nil
}

func (s *recordingSink) DeleteMessage(_ context.Context, request fronter.DeleteMessageRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleted = append(s.deleted, request.MessageID)

	return nil
}

func (*recordingSink) FetchAttachment(context.Context, fronter.FetchAttachmentRequest) ([]byte, error) {
	return nil, nil
}

func (s *recordingSink) SetPresence(_ context.Context, request fronter.SetPresenceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence = append(s.presence, request.Text)

	return nil
}
