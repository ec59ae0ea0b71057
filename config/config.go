package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"go-redzone/types"
)

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"

	ClassifierLLM     = "llm"
	ClassifierMLModel = "mlmodel"
)

type Config struct {
	Port      string `yaml:"port"`
	ClientURL string `yaml:"client_url"`

	LLM struct {
		Provider        string `yaml:"provider"`
		Model           string `yaml:"model"`
		OpenAIAPIKey    string `yaml:"-"`
		AnthropicAPIKey string `yaml:"-"`
	} `yaml:"llm"`

	Classifier struct {
		Backend    string `yaml:"backend"`
		MLModelURL string `yaml:"ml_model_url"`
	} `yaml:"classifier"`

	Storage struct {
		Backend string `yaml:"backend"`
		// Aggregates overrides the aggregate store only ("redis").
		Aggregates          string `yaml:"aggregates"`
		FirebaseProjectID   string `yaml:"firebase_project_id"`
		FirebaseCredentials string `yaml:"-"`
		DatabaseURL         string `yaml:"-"`
		RedisAddr           string `yaml:"-"`
		RedisPassword       string `yaml:"-"`
		RedisDB             int    `yaml:"redis_db"`
	} `yaml:"storage"`

	Alerts struct {
		Thresholds         types.AlertThresholds `yaml:"thresholds"`
		CooldownMinutes    int                   `yaml:"cooldown_minutes"`
		CallTimeoutMinutes int                   `yaml:"call_timeout_minutes"`
	} `yaml:"alerts"`

	Voice struct {
		VapiAPIKey        string `yaml:"-"`
		VapiAssistantID   string `yaml:"vapi_assistant_id"`
		VapiPhoneNumberID string `yaml:"vapi_phone_number_id"`
		VapiBaseURL       string `yaml:"vapi_base_url"`
	} `yaml:"voice"`

	SMS struct {
		TwilioAccountSID string `yaml:"-"`
		TwilioAuthToken  string `yaml:"-"`
		TwilioFrom       string `yaml:"twilio_from"`
	} `yaml:"sms"`

	Slack struct {
		BotToken string `yaml:"-"`
		Channel  string `yaml:"channel"`
	} `yaml:"slack"`

	MapsAPIKey                 string `yaml:"-"`
	NaturalLanguageCredentials string `yaml:"-"`

	Cron struct {
		Enabled  bool   `yaml:"enabled"`
		FeedHost string `yaml:"feed_host"`
	} `yaml:"cron"`
}

// Load reads the optional YAML file at path, applies environment overrides
// and then defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envOverride(&c.Port, "PORT")
	envOverride(&c.ClientURL, "CLIENT_URL")

	envOverride(&c.LLM.Provider, "LLM_PROVIDER")
	envOverride(&c.LLM.Model, "LLM_MODEL")
	envOverride(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&c.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")

	envOverride(&c.Classifier.Backend, "CLASSIFIER_BACKEND")
	envOverride(&c.Classifier.MLModelURL, "ML_MODEL_URL")

	envOverride(&c.Storage.Backend, "STORAGE_BACKEND")
	envOverride(&c.Storage.Aggregates, "AGGREGATE_BACKEND")
	envOverride(&c.Storage.FirebaseProjectID, "FIREBASE_PROJECT_ID")
	envOverride(&c.Storage.FirebaseCredentials, "FIREBASE_CREDENTIALS")
	envOverride(&c.Storage.DatabaseURL, "DATABASE_URL")
	envOverride(&c.Storage.RedisAddr, "REDIS_ADDR")
	envOverride(&c.Storage.RedisPassword, "REDIS_PASSWORD")

	envOverride(&c.Voice.VapiAPIKey, "VAPI_API_KEY")
	envOverride(&c.Voice.VapiAssistantID, "VAPI_ASSISTANT_ID")
	envOverride(&c.Voice.VapiPhoneNumberID, "VAPI_PHONE_NUMBER_ID")
	envOverride(&c.Voice.VapiBaseURL, "VAPI_BASE_URL")

	envOverride(&c.SMS.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	envOverride(&c.SMS.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	envOverride(&c.SMS.TwilioFrom, "TWILIO_FROM_NUMBER")

	envOverride(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	envOverride(&c.Slack.Channel, "SLACK_CHANNEL")

	envOverride(&c.MapsAPIKey, "MAPS_API_KEY")
	envOverride(&c.NaturalLanguageCredentials, "NATURAL_LANGUAGE_CREDENTIALS")
	envOverride(&c.Cron.FeedHost, "FEED_HOST")

	for _, err := range []error{
		envOverrideInt(&c.Storage.RedisDB, "REDIS_DB"),
		envOverrideInt(&c.Alerts.Thresholds.MinCount, "ALERT_MIN_COUNT"),
		envOverrideFloat(&c.Alerts.Thresholds.MinScore, "ALERT_MIN_SCORE"),
		envOverrideInt(&c.Alerts.CooldownMinutes, "ALERT_COOLDOWN_MINUTES"),
		envOverrideInt(&c.Alerts.CallTimeoutMinutes, "CALL_TIMEOUT_MINUTES"),
		envOverrideBool(&c.Cron.Enabled, "CRON_ENABLED"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.Classifier.Backend == "" {
		c.Classifier.Backend = ClassifierLLM
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Alerts.Thresholds.MinCount == 0 {
		c.Alerts.Thresholds.MinCount = 7
	}
	if c.Alerts.Thresholds.MinScore == 0 {
		c.Alerts.Thresholds.MinScore = 0.75
	}
	if c.Alerts.CooldownMinutes == 0 {
		c.Alerts.CooldownMinutes = 30
	}
	if c.Alerts.CallTimeoutMinutes <= 0 {
		c.Alerts.CallTimeoutMinutes = 10
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFirestore:
		if c.Storage.FirebaseCredentials == "" {
			return errors.New("FIREBASE_CREDENTIALS is required when storage.backend=firestore")
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when storage.backend=postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, firestore or postgres, got %q", c.Storage.Backend)
	}

	switch c.Storage.Aggregates {
	case "":
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when storage.aggregates=redis")
		}
	default:
		return fmt.Errorf("storage.aggregates must be empty or redis, got %q", c.Storage.Aggregates)
	}

	switch c.Classifier.Backend {
	case ClassifierLLM:
		if c.LLMAPIKey() == "" {
			return fmt.Errorf("an API key is required for llm.provider=%s", c.LLM.Provider)
		}
	case ClassifierMLModel:
		if c.Classifier.MLModelURL == "" {
			return errors.New("ML_MODEL_URL is required when classifier.backend=mlmodel")
		}
	default:
		return fmt.Errorf("classifier.backend must be llm or mlmodel, got %q", c.Classifier.Backend)
	}

	if c.Alerts.Thresholds.MinScore < 0 || c.Alerts.Thresholds.MinScore > 1 {
		return fmt.Errorf("alerts.thresholds.min_score must be between 0 and 1, got %v", c.Alerts.Thresholds.MinScore)
	}
	return nil
}

// LLMAPIKey returns the key for the configured provider.
func (c *Config) LLMAPIKey() string {
	if strings.EqualFold(c.LLM.Provider, "anthropic") {
		return c.LLM.AnthropicAPIKey
	}
	return c.LLM.OpenAIAPIKey
}

func (c *Config) VoiceConfigured() bool {
	return c.Voice.VapiAPIKey != "" && c.Voice.VapiAssistantID != "" && c.Voice.VapiPhoneNumberID != ""
}

func (c *Config) SMSConfigured() bool {
	return c.SMS.TwilioAccountSID != "" && c.SMS.TwilioAuthToken != "" && c.SMS.TwilioFrom != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
