package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/peerhub/peerhub/internal/common/constants"
	commonerrors "github.com/peerhub/peerhub/internal/common/errors"
)

type HubConfig struct {
	HTTPPort    string
	DatabaseURL string
	JWTSecret   string

	WebSocketWriteWait   time.Duration
	WebSocketPongWait    time.Duration
	WebSocketPingPeriod  time.Duration
	WebSocketMaxMsgSize  int64
	WebSocketSendBufSize int

	HubQueueSize  int
	LookupTimeout time.Duration

	RequestTimeout time.Duration
}

func LoadHubConfig() (HubConfig, error) {
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return HubConfig{}, err
	}

	if err := validateJWTSecret(jwtSecret); err != nil {
		return HubConfig{}, err
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return HubConfig{}, err
	}

	return HubConfig{
		HTTPPort:             getEnv("PRESENCE_HTTP_PORT", constants.DefaultHTTPPort),
		DatabaseURL:          databaseURL,
		JWTSecret:            jwtSecret,
		WebSocketWriteWait:   getDurationEnv("PRESENCE_WS_WRITE_WAIT", constants.DefaultWebSocketWriteWait),
		WebSocketPongWait:    getDurationEnv("PRESENCE_WS_PONG_WAIT", constants.DefaultWebSocketPongWait),
		WebSocketPingPeriod:  getDurationEnv("PRESENCE_WS_PING_PERIOD", constants.DefaultWebSocketPingPeriod),
		WebSocketMaxMsgSize:  getInt64Env("PRESENCE_WS_MAX_MSG_SIZE", constants.DefaultWebSocketMaxMsgSize),
		WebSocketSendBufSize: getIntEnv("PRESENCE_WS_SEND_BUF_SIZE", constants.DefaultWebSocketSendBufSize),
		HubQueueSize:         getIntEnv("PRESENCE_HUB_QUEUE_SIZE", constants.DefaultHubQueueSize),
		LookupTimeout:        getDurationEnv("PRESENCE_LOOKUP_TIMEOUT", constants.DefaultLookupTimeout),
		RequestTimeout:       getDurationEnv("PRESENCE_REQUEST_TIMEOUT", constants.DefaultRequestTimeout),
	}, nil
}

func validateJWTSecret(secret string) error {
	if len(secret) < constants.JWTSecretMinLength {
		return fmt.Errorf("%w: got %d bytes", commonerrors.ErrInvalidJWTSecret, len(secret))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", commonerrors.ErrMissingRequiredEnv, key)
	}
	return v, nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64Env(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
