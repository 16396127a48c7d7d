package chatrooms

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required"`
	// LogLevel is one of debug, info, warn or error. The default is info.
	LogLevel slog.Level
	Auth     struct {
		// Secret is the Secret key used to sign JWT tokens.
		// The secret must be a base64 encoded string. The default is a random 32 byte string.
		Secret Base64Encoded `validate:"required"`
		// TokenTTL is how long issued tokens stay valid. The default is 24h.
		TokenTTL time.Duration `validate:"required,gt=0"`
	}
	SQLite struct {
		// File is the path to the SQLite database file.
		File string `validate:"required"`
	}
	Media struct {
		// BaseURL is joined with stored media paths to build avatar URLs.
		BaseURL string `validate:"required,url"`
	}
	History struct {
		// Limit is the number of messages replayed to a joining session. The default is 50.
		Limit int `validate:"required,gt=0,lte=1000"`
	}
	WS struct {
		// SendBuffer is the number of events queued per connection. The default is 256.
		SendBuffer int `validate:"required,gt=0"`
	}
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string
	TLS            struct {
		// Crt and Key are the PEM files served over HTTPS. Both or neither must be set.
		Crt string `validate:"required_with=Key,omitempty,file"`
		Key string `validate:"required_with=Crt,omitempty,file"`
	}
	Telemetry struct {
		// OTLPEndpoint is the host:port of an OTLP/HTTP collector. Tracing is off when empty.
		OTLPEndpoint string
	}
	valid bool
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

// LoadConfig loads the configuration from the config file, a .env file and environment variables.
// The config file is optional and searched for in paths, the working directory by default.
// Any invalid configuration will not be loaded, and the error will be caught in the validation step.
func LoadConfig(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	v.SetDefault("port", 8080)
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("loglevel", "info")
	v.SetDefault("auth.secret", base64.StdEncoding.EncodeToString(secret))
	v.SetDefault("auth.tokenttl", "24h")
	v.SetDefault("sqlite.file", "./chatrooms.db")
	v.SetDefault("media.baseurl", "http://127.0.0.1:8001/media/")
	v.SetDefault("history.limit", 50)
	v.SetDefault("ws.sendbuffer", 256)
	v.SetDefault("allowedorigins", []string{"*"})
	v.SetDefault("tls.crt", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("telemetry.otlpendpoint", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

// FormatValidationErrors renders validator errors as one translated message per line.
func FormatValidationErrors(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errs.Translate(trans)

	var sb strings.Builder
	for _, v := range slices.Sorted(maps.Values(translated)) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
