package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	UplinkHTTP = "http"
	UplinkMQTT = "mqtt"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	// SerialPort is the device the radio receiver is attached to. With
	// SerialBaud 0 it is opened as a plain file and read once.
	SerialPort        string
	SerialBaud        int
	ReopenMaxInterval time.Duration
	MagicRestart      bool

	Uplink string

	HTTPUplinkURL     string
	HTTPUplinkTimeout time.Duration
	BreakerFailures   uint32
	BreakerOpen       time.Duration
	BreakerInterval   time.Duration

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string

	MetricsAddr string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	serialPort := strings.TrimSpace(os.Getenv("SERIAL_PORT"))
	if serialPort == "" {
		serialPort = "/dev/ttyACM0"
	}

	serialBaudStr := strings.TrimSpace(os.Getenv("SERIAL_BAUD"))
	if serialBaudStr == "" {
		serialBaudStr = "115200"
	}
	serialBaud, err := strconv.Atoi(serialBaudStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SERIAL_BAUD %q: %w", serialBaudStr, err)
	}
	if serialBaud < 0 {
		return Config{}, fmt.Errorf("SERIAL_BAUD must not be negative, got %d", serialBaud)
	}

	reopenMaxInterval, err := durationFromEnv("SERIAL_REOPEN_MAX_INTERVAL", "30s")
	if err != nil {
		return Config{}, err
	}

	magicRestart, err := boolFromEnv("DECODER_MAGIC_RESTART", false)
	if err != nil {
		return Config{}, err
	}

	uplink := strings.ToLower(strings.TrimSpace(os.Getenv("UPLINK")))
	if uplink == "" {
		uplink = UplinkHTTP
	}
	switch uplink {
	case UplinkHTTP, UplinkMQTT:
	default:
		return Config{}, fmt.Errorf("invalid UPLINK %q (allowed: http, mqtt)", uplink)
	}

	httpUplinkURL := strings.TrimSpace(os.Getenv("HTTP_UPLINK_URL"))
	if httpUplinkURL == "" {
		httpUplinkURL = "http://localhost:8080/api/v1/telemetry"
	}
	if u, err := url.Parse(httpUplinkURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("invalid HTTP_UPLINK_URL %q", httpUplinkURL)
	}

	httpUplinkTimeout, err := durationFromEnv("HTTP_UPLINK_TIMEOUT", "5s")
	if err != nil {
		return Config{}, err
	}

	breakerFailuresStr := strings.TrimSpace(os.Getenv("UPLINK_BREAKER_FAILURES"))
	if breakerFailuresStr == "" {
		breakerFailuresStr = "5"
	}
	breakerFailures, err := strconv.ParseUint(breakerFailuresStr, 10, 32)
	if err != nil || breakerFailures == 0 {
		return Config{}, fmt.Errorf("invalid UPLINK_BREAKER_FAILURES %q (must be a positive integer)", breakerFailuresStr)
	}

	breakerOpen, err := durationFromEnv("UPLINK_BREAKER_OPEN", "30s")
	if err != nil {
		return Config{}, err
	}
	breakerInterval, err := durationFromEnv("UPLINK_BREAKER_INTERVAL", "60s")
	if err != nil {
		return Config{}, err
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "rainguage-gateway"
	}

	mqttTopicPrefix := strings.Trim(strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX")), "/")
	if mqttTopicPrefix == "" {
		mqttTopicPrefix = "raingauge"
	}

	return Config{
		AppEnv:            appEnv,
		LogLevel:          level,
		SerialPort:        serialPort,
		SerialBaud:        serialBaud,
		ReopenMaxInterval: reopenMaxInterval,
		MagicRestart:      magicRestart,
		Uplink:            uplink,
		HTTPUplinkURL:     httpUplinkURL,
		HTTPUplinkTimeout: httpUplinkTimeout,
		BreakerFailures:   uint32(breakerFailures),
		BreakerOpen:       breakerOpen,
		BreakerInterval:   breakerInterval,
		MQTTBroker:        mqttBroker,
		MQTTPort:          mqttPort,
		MQTTClientID:      mqttClientID,
		MQTTTopicPrefix:   mqttTopicPrefix,
		MetricsAddr:       strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}, nil
}

func durationFromEnv(key, def string) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func boolFromEnv(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
