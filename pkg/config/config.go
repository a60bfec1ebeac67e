package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xaenox/acet/internal/storage"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Groq     GroqConfig     `mapstructure:"groq"`
	Civitai  CivitaiConfig  `mapstructure:"civitai"`
	Client   ClientConfig   `mapstructure:"client"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	OutputDir       string        `mapstructure:"output_dir"`
	PublicURL       string        `mapstructure:"public_url"`
	JobsPath        string        `mapstructure:"jobs_path"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	MaxUpload       string        `mapstructure:"max_upload"`
	RetentionCron   string        `mapstructure:"retention_cron"`
	RetentionMaxAge time.Duration `mapstructure:"retention_max_age"`
}

// UploadLimit parses MaxUpload, a size like "25MB" or a plain byte count.
func (s ServerConfig) UploadLimit() (int64, error) {
	raw := strings.TrimSpace(s.MaxUpload)
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", s.MaxUpload, err)
	}
	return int64(n), nil
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Storage converts the section into the storage package's settings.
func (d DatabaseConfig) Storage() storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Driver:   d.Driver,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
		Path:     d.Path,
	}
}

type GroqConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	BaseURL            string  `mapstructure:"base_url"`
	Model              string  `mapstructure:"model"`
	EnhanceModel       string  `mapstructure:"enhance_model"`
	VisionModel        string  `mapstructure:"vision_model"`
	TranscriptionModel string  `mapstructure:"transcription_model"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	Temperature        float64 `mapstructure:"temperature"`
}

type CivitaiConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// ClientConfig drives the chat front ends.
type ClientConfig struct {
	RelayURL         string        `mapstructure:"relay_url"`
	Model            string        `mapstructure:"model"`
	TypingInterval   time.Duration `mapstructure:"typing_interval"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	NominalDuration  time.Duration `mapstructure:"nominal_duration"`
	GlossaryInterval time.Duration `mapstructure:"glossary_interval"`
	PrefsPath        string        `mapstructure:"prefs_path"`
}

type TelegramConfig struct {
	Token        string  `mapstructure:"token"`
	AllowedUsers []int64 `mapstructure:"allowed_users"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	switch u.Scheme {
	case "sqlite", "file":
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		return DatabaseConfig{Driver: "sqlite", Path: path}, nil
	case "postgres", "postgresql":
	default:
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", p)
		}
	}
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.output_dir", "generated_images")
	v.SetDefault("server.jobs_path", "data/jobs")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.max_upload", "25MB")
	v.SetDefault("server.retention_cron", "@hourly")
	v.SetDefault("server.retention_max_age", 24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/glossary.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("groq.enhance_model", "llama-3.1-8b-instant")
	v.SetDefault("groq.vision_model", "llama-3.2-90b-vision-preview")
	v.SetDefault("groq.transcription_model", "whisper-large-v3")
	v.SetDefault("groq.max_tokens", 1024)
	v.SetDefault("groq.temperature", 0.7)

	v.SetDefault("client.relay_url", "http://127.0.0.1:8000")
	v.SetDefault("client.model", "SD 1.5")
	v.SetDefault("client.typing_interval", 20*time.Millisecond)
	v.SetDefault("client.poll_interval", time.Second)
	v.SetDefault("client.nominal_duration", 30*time.Second)
	v.SetDefault("client.glossary_interval", 30*time.Second)
	v.SetDefault("client.prefs_path", "~/.config/acet/prefs.toml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads .env, then the YAML file at path if it exists, then the
// environment. Well-known variables (DATABASE_URL, GROQ_API_KEY,
// CIVITAI_API_TOKEN, TELEGRAM_TOKEN, RELAY_URL) override the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if _, err := config.Server.UploadLimit(); err != nil {
		return nil, fmt.Errorf("failed to parse server.max_upload: %w", err)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		config.Groq.APIKey = key
	}
	if token := os.Getenv("CIVITAI_API_TOKEN"); token != "" {
		config.Civitai.Token = token
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if relay := os.Getenv("RELAY_URL"); relay != "" {
		config.Client.RelayURL = relay
	}

	return &config, nil
}
