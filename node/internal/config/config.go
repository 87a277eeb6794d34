package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

const (
	LinkLoRa = "lora"
	LinkUSB  = "usb"

	SensorStatic = "static"
	SensorBME280 = "bme280"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	DeviceID [telemetry.DeviceIDLen]byte
	Interval time.Duration
	// Vbat is reported as the battery reading; the node has no ADC of its own.
	Vbat uint32

	// LinkPort "-" writes frames to stdout. With LinkBaud 0 it is opened as
	// a plain file for appending.
	LinkPort string
	LinkBaud int
	// LinkKind selects which counters the link's bytes and errors land in.
	LinkKind string

	Sensor            string
	I2CBus            string
	BME280Address     uint16
	StaticTemperature float32
	StaticHumidity    float32

	// TipPin empty disables the rain tip counter.
	TipPin      string
	TipDebounce time.Duration
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

	deviceIDStr := strings.TrimSpace(os.Getenv("NODE_DEVICE_ID"))
	if deviceIDStr == "" {
		deviceIDStr = "00000000000000000000000000000001"
	}
	deviceID, err := telemetry.ParseDeviceID(deviceIDStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid NODE_DEVICE_ID %q: %w", deviceIDStr, err)
	}

	interval, err := durationFromEnv("NODE_INTERVAL", "15s")
	if err != nil {
		return Config{}, err
	}

	vbatStr := strings.TrimSpace(os.Getenv("NODE_VBAT"))
	if vbatStr == "" {
		vbatStr = "3300"
	}
	vbat, err := strconv.ParseUint(vbatStr, 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("invalid NODE_VBAT %q: %w", vbatStr, err)
	}

	linkPort := strings.TrimSpace(os.Getenv("LINK_PORT"))
	if linkPort == "" {
		linkPort = "-"
	}

	linkBaudStr := strings.TrimSpace(os.Getenv("LINK_BAUD"))
	if linkBaudStr == "" {
		linkBaudStr = "115200"
	}
	linkBaud, err := strconv.Atoi(linkBaudStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid LINK_BAUD %q: %w", linkBaudStr, err)
	}
	if linkBaud < 0 {
		return Config{}, fmt.Errorf("LINK_BAUD must not be negative, got %d", linkBaud)
	}

	linkKind := strings.ToLower(strings.TrimSpace(os.Getenv("LINK_KIND")))
	if linkKind == "" {
		linkKind = LinkLoRa
	}
	switch linkKind {
	case LinkLoRa, LinkUSB:
	default:
		return Config{}, fmt.Errorf("invalid LINK_KIND %q (allowed: lora, usb)", linkKind)
	}

	sensor := strings.ToLower(strings.TrimSpace(os.Getenv("SENSOR")))
	if sensor == "" {
		sensor = SensorStatic
	}
	switch sensor {
	case SensorStatic, SensorBME280:
	default:
		return Config{}, fmt.Errorf("invalid SENSOR %q (allowed: static, bme280)", sensor)
	}

	addrStr := strings.TrimSpace(os.Getenv("BME280_ADDRESS"))
	if addrStr == "" {
		addrStr = "0x76"
	}
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", addrStr, err)
	}

	staticTemp, err := float32FromEnv("STATIC_TEMPERATURE", 20)
	if err != nil {
		return Config{}, err
	}
	staticHumidity, err := float32FromEnv("STATIC_HUMIDITY", 50)
	if err != nil {
		return Config{}, err
	}

	tipDebounce, err := durationFromEnv("TIP_DEBOUNCE", "50ms")
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:            appEnv,
		LogLevel:          level,
		DeviceID:          deviceID,
		Interval:          interval,
		Vbat:              uint32(vbat),
		LinkPort:          linkPort,
		LinkBaud:          linkBaud,
		LinkKind:          linkKind,
		Sensor:            sensor,
		I2CBus:            strings.TrimSpace(os.Getenv("I2C_BUS")),
		BME280Address:     uint16(addr),
		StaticTemperature: staticTemp,
		StaticHumidity:    staticHumidity,
		TipPin:            strings.TrimSpace(os.Getenv("TIP_PIN")),
		TipDebounce:       tipDebounce,
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

func float32FromEnv(key string, def float32) (float32, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return float32(f), nil
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
