// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken    = "TELEGRAM_BOT_TOKEN"
	KeyTelegramBotName  = "TELEGRAM_BOT_NAME"
	KeyAppEnv           = "APP_ENV"
	KeyLogLevel         = "LOG_LEVEL"
	KeyHTTPPort         = "HTTP_PORT"
	KeyRegistryBackend  = "REGISTRY_BACKEND"
	KeyRegistryFile     = "REGISTRY_FILE"
	KeyMongoURI         = "MONGO_URI"
	KeyMongoDB          = "MONGO_DB"
	KeyAgentAPIBase     = "AGENT_API_BASE"
	KeyAgentAPIKey      = "AGENT_API_KEY"
	KeyAgentModel       = "AGENT_MODEL"
	KeyAgentTimeout     = "AGENT_TIMEOUT"
	KeyRelayRate        = "RELAY_RATE"
	KeyRelayBurst       = "RELAY_BURST"
	KeyRelayMaxInflight = "RELAY_MAX_INFLIGHT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Registry backends.
	BackendFile  = "file"
	BackendMongo = "mongo"

	// Defaults for optional settings.
	DefaultAppEnv           = EnvProduction
	DefaultLogLevel         = "info"
	DefaultHTTPPort         = 7378
	DefaultRegistryBackend  = BackendFile
	DefaultRegistryFile     = "monitoredGroups.json"
	DefaultAgentModel       = "gpt-4o"
	DefaultAgentTimeout     = 2 * time.Minute
	DefaultRelayRate        = 0.5
	DefaultRelayBurst       = 3
	DefaultRelayMaxInflight = 16
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bridge.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyTelegramBotName,
		Example:     "my_bridge_bot",
		Description: "Bot username used for @mention gating in monitored groups.",
		Notes:       "Resolved through getMe when unset.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "Port of the capability and health HTTP server.",
	},
	{
		Key:         KeyRegistryBackend,
		Example:     BackendFile + " / " + BackendMongo,
		Default:     DefaultRegistryBackend,
		Description: "Storage backend for monitored groups.",
	},
	{
		Key:         KeyRegistryFile,
		Example:     DefaultRegistryFile,
		Default:     DefaultRegistryFile,
		Description: "JSON file holding monitored groups when REGISTRY_BACKEND=file.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when REGISTRY_BACKEND=" + BackendMongo + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     "tg_agent_bridge",
		Description: "MongoDB database name.",
		Notes:       "Required when REGISTRY_BACKEND=" + BackendMongo + ".",
	},
	{
		Key:         KeyAgentAPIBase,
		Example:     "https://api.openai.com/v1",
		Required:    true,
		Description: "Base URL of the OpenAI-compatible agent runtime used for relays.",
	},
	{
		Key:         KeyAgentAPIKey,
		Example:     "sk-...",
		Description: "Bearer token sent to the agent runtime.",
	},
	{
		Key:         KeyAgentModel,
		Example:     DefaultAgentModel,
		Default:     DefaultAgentModel,
		Description: "Model requested from the agent runtime.",
	},
	{
		Key:         KeyAgentTimeout,
		Example:     DefaultAgentTimeout.String(),
		Default:     DefaultAgentTimeout.String(),
		Description: "Timeout applied to each relay call.",
	},
	{
		Key:         KeyRelayRate,
		Example:     strconv.FormatFloat(DefaultRelayRate, 'f', -1, 64),
		Default:     strconv.FormatFloat(DefaultRelayRate, 'f', -1, 64),
		Description: "Relays per second allowed per chat; 0 disables rate limiting.",
	},
	{
		Key:         KeyRelayBurst,
		Example:     strconv.Itoa(DefaultRelayBurst),
		Default:     strconv.Itoa(DefaultRelayBurst),
		Description: "Per-chat relay burst size.",
	},
	{
		Key:         KeyRelayMaxInflight,
		Example:     strconv.Itoa(DefaultRelayMaxInflight),
		Default:     strconv.Itoa(DefaultRelayMaxInflight),
		Description: "Maximum concurrent relays; 0 disables the cap.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken    string
	TelegramBotName  string
	AppEnv           string
	LogLevel         string
	HTTPPort         int
	RegistryBackend  string
	RegistryFile     string
	MongoURI         string
	MongoDB          string
	AgentAPIBase     string
	AgentAPIKey      string
	AgentModel       string
	AgentTimeout     time.Duration
	RelayRate        float64
	RelayBurst       int
	RelayMaxInflight int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:    strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		TelegramBotName:  strings.TrimPrefix(strings.TrimSpace(os.Getenv(KeyTelegramBotName)), "@"),
		LogLevel:         firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:         DefaultHTTPPort,
		RegistryBackend:  firstNonEmpty(normalizeEnv(os.Getenv(KeyRegistryBackend)), DefaultRegistryBackend),
		RegistryFile:     firstNonEmpty(os.Getenv(KeyRegistryFile), DefaultRegistryFile),
		MongoURI:         strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:          strings.TrimSpace(os.Getenv(KeyMongoDB)),
		AgentAPIBase:     strings.TrimSuffix(strings.TrimSpace(os.Getenv(KeyAgentAPIBase)), "/"),
		AgentAPIKey:      strings.TrimSpace(os.Getenv(KeyAgentAPIKey)),
		AgentModel:       firstNonEmpty(os.Getenv(KeyAgentModel), DefaultAgentModel),
		AgentTimeout:     DefaultAgentTimeout,
		RelayRate:        DefaultRelayRate,
		RelayBurst:       DefaultRelayBurst,
		RelayMaxInflight: DefaultRelayMaxInflight,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	if err := validateBackend(cfg.RegistryBackend); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	if cfg.AgentAPIBase == "" {
		missing = append(missing, KeyAgentAPIBase)
	}

	if cfg.RegistryBackend == BackendMongo {
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.RegistryBackend == BackendMongo && !isMongoURI(cfg.MongoURI) {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if _, err := url.ParseRequestURI(cfg.AgentAPIBase); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyAgentAPIBase, err)
	}

	if raw := strings.TrimSpace(os.Getenv(KeyHTTPPort)); raw != "" {
		port, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if raw := strings.TrimSpace(os.Getenv(KeyAgentTimeout)); raw != "" {
		timeout, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAgentTimeout, parseErr)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyAgentTimeout)
		}
		cfg.AgentTimeout = timeout
	}

	if raw := strings.TrimSpace(os.Getenv(KeyRelayRate)); raw != "" {
		rate, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyRelayRate, parseErr)
		}
		if rate < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", KeyRelayRate)
		}
		cfg.RelayRate = rate
	}

	burst, err := nonNegativeInt(KeyRelayBurst, cfg.RelayBurst)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayBurst = burst

	inflight, err := nonNegativeInt(KeyRelayMaxInflight, cfg.RelayMaxInflight)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayMaxInflight = inflight

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration with secrets masked, suitable for
// printing during a -config-only check.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + redactSecret(cfg.TelegramToken),
		"telegram_bot_name: " + cfg.TelegramBotName,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"registry_backend: " + cfg.RegistryBackend,
	}

	if cfg.RegistryBackend == BackendMongo {
		lines = append(lines,
			"mongo_uri: "+redactURI(cfg.MongoURI),
			"mongo_db: "+cfg.MongoDB,
		)
	} else {
		lines = append(lines, "registry_file: "+cfg.RegistryFile)
	}

	lines = append(lines,
		"agent_api_base: "+redactURI(cfg.AgentAPIBase),
		"agent_api_key: "+redactSecret(cfg.AgentAPIKey),
		"agent_model: "+cfg.AgentModel,
		"agent_timeout: "+cfg.AgentTimeout.String(),
		"relay_rate: "+strconv.FormatFloat(cfg.RelayRate, 'f', -1, 64),
		"relay_burst: "+strconv.Itoa(cfg.RelayBurst),
		"relay_max_inflight: "+strconv.Itoa(cfg.RelayMaxInflight),
	)

	return strings.Join(lines, "\n")
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateBackend(backend string) error {
	if backend == BackendFile || backend == BackendMongo {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyRegistryBackend, BackendFile, BackendMongo)
}

func nonNegativeInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}

	return value, nil
}

func isMongoURI(uri string) bool {
	return strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://")
}

func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "...redacted"
	}

	return secret[:4] + "...redacted"
}

func redactURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}

	parsed.User = nil
	return parsed.String()
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
