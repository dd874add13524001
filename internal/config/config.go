package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values come from env, optionally seeded from an env file (ENV_FILE, default .env).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Deepgram DeepgramConfig
	OpenAI   OpenAIConfig
	Calls    CallsConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is where the carrier reaches our webhooks and media endpoint.
	PublicBaseURL string
}

// DBConfig is optional outside production; results then live in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

func (c DBConfig) Enabled() bool { return c.Host != "" }

// RedisConfig is optional; it enables the concurrency cap and event pub/sub.
type RedisConfig struct {
	Host      string
	Port      int
	KeyPrefix string
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Clients maps API client ids to secrets (API_CLIENTS="id:secret,id2:secret2").
	Clients map[string]string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// ValidateSignatures checks X-Twilio-Signature on webhooks. Always on in production.
	ValidateSignatures bool
}

type DeepgramConfig struct {
	APIKey string
	URL    string

	// ProfileFile is an optional YAML agent profile.
	ProfileFile string
}

// OpenAIConfig enables post-call evaluation when APIKey is set.
type OpenAIConfig struct {
	APIKey string
	Model  string
}

type CallsConfig struct {
	DefaultVoice    string
	DefaultLanguage string
	MaxDuration     time.Duration
	RingTimeout     time.Duration
	AnswerTimeout   time.Duration

	// ConcurrencyLimit caps live calls across processes. Zero disables the cap; requires redis.
	ConcurrencyLimit int
}

const defaultEnvFile = ".env"

func Load() (Config, error) {
	var parseErrs []error
	if err := loadEnvFile(); err != nil {
		parseErrs = append(parseErrs, err)
	}

	c := Config{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Enabled() {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Enabled() {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.KeyPrefix = strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_REFRESH_TTL")
	{
		clients, err := parseClients(os.Getenv("API_CLIENTS"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Auth.Clients = clients
	}

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.ValidateSignatures, parseErrs = optionalBool(parseErrs, "TWILIO_VALIDATE_SIGNATURES")

	c.Deepgram.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	c.Deepgram.URL = strings.TrimSpace(os.Getenv("DEEPGRAM_AGENT_URL"))
	c.Deepgram.ProfileFile = strings.TrimSpace(os.Getenv("AGENT_PROFILE_FILE"))

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))

	c.Calls.DefaultVoice = strings.TrimSpace(os.Getenv("CALL_DEFAULT_VOICE"))
	c.Calls.DefaultLanguage = strings.TrimSpace(os.Getenv("CALL_DEFAULT_LANGUAGE"))
	c.Calls.MaxDuration, parseErrs = optionalDuration(parseErrs, "CALL_MAX_DURATION")
	c.Calls.RingTimeout, parseErrs = optionalDuration(parseErrs, "CALL_RING_TIMEOUT")
	c.Calls.AnswerTimeout, parseErrs = optionalDuration(parseErrs, "CALL_ANSWER_TIMEOUT")
	c.Calls.ConcurrencyLimit, parseErrs = optionalInt(parseErrs, "CALL_CONCURRENCY_LIMIT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
	} else if !strings.HasPrefix(c.App.PublicBaseURL, "https://") && !strings.HasPrefix(c.App.PublicBaseURL, "http://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.App.PublicBaseURL))
	}

	if c.DB.Enabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("DB_HOST is required in production"))
	}

	if c.Redis.Enabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "phonon"
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required"))
	}
	if c.IsProduction() {
		c.Twilio.ValidateSignatures = true
	}

	if c.Deepgram.APIKey == "" {
		errs = append(errs, errors.New("DEEPGRAM_API_KEY is required"))
	}

	if c.Calls.MaxDuration < 0 {
		errs = append(errs, errors.New("CALL_MAX_DURATION must not be negative"))
	}
	if c.Calls.ConcurrencyLimit < 0 {
		errs = append(errs, errors.New("CALL_CONCURRENCY_LIMIT must not be negative"))
	}
	if c.Calls.ConcurrencyLimit > 0 && !c.Redis.Enabled() {
		errs = append(errs, errors.New("CALL_CONCURRENCY_LIMIT requires REDIS_HOST"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// loadEnvFile seeds the environment from ENV_FILE (default .env) when the file exists.
// Variables already set in the environment win.
func loadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("ENV_FILE %q: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func optionalBool(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func parseClients(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, secret, ok := strings.Cut(pair, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" || secret == "" {
			return nil, errors.New("API_CLIENTS entries must look like id:secret")
		}
		out[id] = secret
	}
	return out, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
