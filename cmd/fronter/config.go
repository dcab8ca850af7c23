package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ex-fronter/internal/driver"
	"ex-fronter/internal/roster/jsonfile"
	"ex-fronter/internal/roster/sqlitestore"
	"ex-fronter/modules/proxy"
	"ex-fronter/pkg/fronter"
)

const (
	envConfigFile             = "FRONTER_CONFIG_FILE"
	defaultConfigFilePath     = "config/bot.json"
	yamlConfigFilePath        = "config/bot.yaml"
	alternateConfigFilePath   = "bin/config/bot.json"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 2 * time.Minute
	defaultInterceptorTimeout = 2 * time.Minute
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 1

	storageTypeJSON   = "json"
	storageTypeSQLite = "sqlite"

	logFormatJSON = "json"
	logFormatText = "text"
)

type appConfig struct {
	logLevel  slog.Level
	logFormat string

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	interceptorTimeout  time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	storageType string
	storagePath string

	attachmentCaption string
	defaultColor      fronter.Color

	drivers []driver.Definition
}

type fileConfig struct {
	LogLevel  string            `json:"log_level"`
	LogFormat string            `json:"log_format"`
	Kernel    fileKernelConfig  `json:"kernel"`
	Storage   fileStorageConfig `json:"storage"`
	Proxy     fileProxyConfig   `json:"proxy"`
	Drivers   []fileDriverEntry `json:"drivers"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	InterceptorTimeout  string `json:"interceptor_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileStorageConfig struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type fileProxyConfig struct {
	AttachmentCaption string `json:"attachment_caption"`
	DefaultColor      string `json:"default_color"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, yamlConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s, %s or %s, or set %s",
		defaultConfigFilePath,
		yamlConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:  slog.LevelInfo,
		logFormat: logFormatJSON,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		interceptorTimeout:  defaultInterceptorTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		storageType: storageTypeJSON,
		storagePath: jsonfile.DefaultPath,

		attachmentCaption: proxy.DefaultAttachmentCaption,
		defaultColor:      fronter.DefaultColor,

		drivers: make([]driver.Definition, 0),
	}
}

// readConfigDocument returns the file as JSON. YAML files are decoded into a
// generic document first so both formats share one schema.
func readConfigDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var document any
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("parse yaml config file %s: %w", path, err)
		}
		normalized, err := normalizeYAML(document)
		if err != nil {
			return nil, fmt.Errorf("normalize yaml config file %s: %w", path, err)
		}
		encoded, err := json.Marshal(normalized)
		if err != nil {
			return nil, fmt.Errorf("encode yaml config file %s: %w", path, err)
		}
		return encoded, nil
	default:
		return data, nil
	}
}

// normalizeYAML converts yaml.v3 generic values into JSON-encodable ones.
func normalizeYAML(value any) (any, error) {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			normalized, err := normalizeYAML(item)
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			name, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", key)
			}
			normalized, err := normalizeYAML(item)
			if err != nil {
				return nil, err
			}
			out[name] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for index, item := range typed {
			normalized, err := normalizeYAML(item)
			if err != nil {
				return nil, err
			}
			out[index] = normalized
		}
		return out, nil
	default:
		return value, nil
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := readConfigDocument(path)
	if err != nil {
		return err
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if rawFormat := strings.ToLower(strings.TrimSpace(parsed.LogFormat)); rawFormat != "" {
		if rawFormat != logFormatJSON && rawFormat != logFormatText {
			return fmt.Errorf("parse log_format: unsupported format %q", parsed.LogFormat)
		}
		cfg.logFormat = rawFormat
	}

	durations := []struct {
		raw    string
		field  string
		target *time.Duration
	}{
		{raw: parsed.Kernel.ModuleHookTimeout, field: "kernel.module_hook_timeout", target: &cfg.moduleHookTimeout},
		{raw: parsed.Kernel.ShutdownTimeout, field: "kernel.shutdown_timeout", target: &cfg.shutdownTimeout},
		{raw: parsed.Kernel.HandlerTimeout, field: "kernel.handler_timeout", target: &cfg.handlerTimeout},
		{raw: parsed.Kernel.InterceptorTimeout, field: "kernel.interceptor_timeout", target: &cfg.interceptorTimeout},
	}
	for _, duration := range durations {
		rawTimeout := strings.TrimSpace(duration.raw)
		if rawTimeout == "" {
			continue
		}
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if timeout <= 0 {
			return fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.target = timeout
	}
	if parsed.Kernel.SubscriptionBuffer != nil {
		if *parsed.Kernel.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.Kernel.SubscriptionBuffer
	}
	if parsed.Kernel.SubscriptionWorkers != nil {
		if *parsed.Kernel.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.Kernel.SubscriptionWorkers
	}

	if err := applyStorageConfig(cfg, parsed.Storage); err != nil {
		return err
	}

	if caption := strings.TrimSpace(parsed.Proxy.AttachmentCaption); caption != "" {
		cfg.attachmentCaption = caption
	}
	if rawColor := strings.TrimSpace(parsed.Proxy.DefaultColor); rawColor != "" {
		color, err := fronter.ParseColor(rawColor)
		if err != nil {
			return fmt.Errorf("parse proxy.default_color: %w", err)
		}
		cfg.defaultColor = color
	}

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	return nil
}

func applyStorageConfig(cfg *appConfig, raw fileStorageConfig) error {
	storageType := strings.ToLower(strings.TrimSpace(raw.Type))
	switch storageType {
	case "":
		storageType = cfg.storageType
	case storageTypeJSON, storageTypeSQLite:
	default:
		return fmt.Errorf("parse storage.type: unsupported type %q", raw.Type)
	}

	path := strings.TrimSpace(raw.Path)
	if path == "" {
		path = jsonfile.DefaultPath
		if storageType == storageTypeSQLite {
			path = sqlitestore.DefaultPath
		}
	}

	cfg.storageType = storageType
	cfg.storagePath = path

	return nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	enabled := 0
	seen := make(map[string]struct{}, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
