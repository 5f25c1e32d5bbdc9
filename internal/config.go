package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr           string        `env:"CHAT_SERVER_ADDR,required=true" validate:"required,url"`
	APIURL               string        `env:"CHAT_API_URL,required=true" validate:"required,url"`
	AuthToken            string        `env:"AUTH_TOKEN,required=true" validate:"required"`
	UserID               string        `env:"USER_ID"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	APITimeout           time.Duration `env:"API_TIMEOUT,default=10s" validate:"gt=0"`
	TypingTTL            time.Duration `env:"TYPING_TTL,default=3s" validate:"gt=0"`
	TypingIdle           time.Duration `env:"TYPING_IDLE,default=1s" validate:"gt=0"`
	TypingRefresh        time.Duration `env:"TYPING_REFRESH,default=2s" validate:"gt=0,ltfield=TypingTTL"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT,default=10s" validate:"gt=0"`
	HandshakeTimeout     time.Duration `env:"HANDSHAKE_TIMEOUT,default=10s" validate:"gt=0"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY,default=500ms" validate:"gt=0"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY,default=30s" validate:"gtefield=ReconnectBaseDelay"`
	MaxReconnectAttempts int           `env:"RECONNECT_MAX_ATTEMPTS,default=5" validate:"min=1"`
	TranslationTimeout   time.Duration `env:"TRANSLATION_TIMEOUT,default=10s" validate:"gt=0"`
	TranslationRate      float64       `env:"TRANSLATION_RATE,default=5" validate:"gt=0"`
	TranslationWorkers   int           `env:"TRANSLATION_WORKERS,default=2" validate:"min=1,max=32"`
	BufferSize           int           `env:"BUFFER_SIZE,default=256" validate:"min=1"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s" validate:"gt=0"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=50" validate:"min=1"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,default=./data/badger" validate:"required"`
	BlugeFilepath        string        `env:"BLUGE_FILEPATH,default=./data/bluge" validate:"required"`
}

// LoadConfig reads .env when present, then the environment. The user id
// falls back to the subject of the bearer token.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if config.UserID == "" {
		userID, err := UserIDFromToken(config.AuthToken)
		if err != nil {
			return Config{}, err
		}
		config.UserID = userID
	}
	return config, nil
}

// UserIDFromToken reads the "sub" claim. The signature is the server's
// business, the client only needs to know who it is.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("USER_ID is not set and AUTH_TOKEN is not a JWT: %w", err)
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("USER_ID is not set and AUTH_TOKEN has no subject")
	}
	return subject, nil
}
