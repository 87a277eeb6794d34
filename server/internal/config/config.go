package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	// SQLiteLogQueries routes every statement through the debug SQL logger.
	SQLiteLogQueries bool

	// IngestQueueSize bounds the packets accepted but not yet persisted.
	IngestQueueSize   int
	PersistMaxElapsed time.Duration

	// MQTTBroker empty disables the MQTT subscriber.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	// InfluxURL empty disables the InfluxDB mirror.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
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

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if path == "" {
		path = "../dev/sqlite/app.db"
	}

	maxOpenConns, err := intFromEnv("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := intFromEnv("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}

	connMaxLifetimeStr := strings.TrimSpace(os.Getenv("DB_CONN_MAX_LIFETIME"))
	if connMaxLifetimeStr == "" {
		connMaxLifetimeStr = "0s"
	}
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	logQueries := false
	if s := strings.TrimSpace(os.Getenv("DB_LOG_SQL")); s != "" {
		logQueries, err = strconv.ParseBool(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DB_LOG_SQL %q: %w", s, err)
		}
	}

	queueSize, err := intFromEnv("INGEST_QUEUE_SIZE", 32)
	if err != nil {
		return Config{}, err
	}
	if queueSize <= 0 {
		return Config{}, fmt.Errorf("INGEST_QUEUE_SIZE must be positive, got %d", queueSize)
	}

	persistMaxElapsedStr := strings.TrimSpace(os.Getenv("PERSIST_MAX_ELAPSED"))
	if persistMaxElapsedStr == "" {
		persistMaxElapsedStr = "2m"
	}
	persistMaxElapsed, err := time.ParseDuration(persistMaxElapsedStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PERSIST_MAX_ELAPSED %q: %w", persistMaxElapsedStr, err)
	}
	if persistMaxElapsed <= 0 {
		return Config{}, fmt.Errorf("PERSIST_MAX_ELAPSED must be positive, got %v", persistMaxElapsed)
	}

	mqttPort, err := intFromEnv("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "rainguage-server"
	}
	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = "raingauge/+/telemetry"
	}

	influxURL := strings.TrimSpace(os.Getenv("INFLUX_URL"))
	influxToken := strings.TrimSpace(os.Getenv("INFLUX_TOKEN"))
	influxOrg := strings.TrimSpace(os.Getenv("INFLUX_ORG"))
	influxBucket := strings.TrimSpace(os.Getenv("INFLUX_BUCKET"))
	if influxURL != "" && (influxToken == "" || influxOrg == "" || influxBucket == "") {
		return Config{}, fmt.Errorf("INFLUX_URL is set but INFLUX_TOKEN, INFLUX_ORG or INFLUX_BUCKET is missing")
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              httpAddr,
		SQLiteDriver:          driver,
		SQLiteDSN:             dsn,
		SQLitePath:            path,
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLiteLogQueries:      logQueries,
		IngestQueueSize:       queueSize,
		PersistMaxElapsed:     persistMaxElapsed,
		MQTTBroker:            strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:              mqttPort,
		MQTTClientID:          mqttClientID,
		MQTTTopic:             mqttTopic,
		InfluxURL:             influxURL,
		InfluxToken:           influxToken,
		InfluxOrg:             influxOrg,
		InfluxBucket:          influxBucket,
	}, nil
}

func intFromEnv(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
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
