// Пакет config — загрузка и валидация конфигурации Audio Store
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Audio Store.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория данных: blobs/ и meta/ создаются внутри
	DataDir string
	// Путь к директории WAL
	WALDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Разрешённые MIME-типы загружаемых файлов
	AllowedTypes []string
	// DSN PostgreSQL. Пустая строка — каталог в памяти с attr-файлами
	DatabaseURL string
	// Интервал запуска GC осиротевших blob'ов
	GCInterval time.Duration
	// Возраст blob'а, до которого GC его не трогает
	GCGracePeriod time.Duration
	// Максимальное количество записей в LRU-кэше метаданных
	CacheSize int
	// TTL записи LRU-кэша
	CacheTTL time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// BlobDir возвращает директорию blob-хранилища внутри DataDir.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// MetaDir возвращает директорию attr-файлов каталога внутри DataDir.
func (c *Config) MetaDir() string {
	return filepath.Join(c.DataDir, "meta")
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// AS_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("AS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("AS_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("AS_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// AS_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("AS_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// AS_WAL_DIR — директория WAL (по умолчанию {AS_DATA_DIR}/wal)
	cfg.WALDir = getEnvDefault("AS_WAL_DIR", filepath.Join(cfg.DataDir, "wal"))

	// AS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 50 MiB)
	maxFileSize, err := getEnvInt64("AS_MAX_FILE_SIZE", 52428800)
	if err != nil {
		return nil, fmt.Errorf("AS_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("AS_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// AS_ALLOWED_TYPES — разрешённые MIME-типы через запятую
	cfg.AllowedTypes = splitList(getEnvDefault("AS_ALLOWED_TYPES", "audio/mpeg,audio/mp3"))
	if len(cfg.AllowedTypes) == 0 {
		return nil, fmt.Errorf("AS_ALLOWED_TYPES: список разрешённых типов пуст")
	}

	// AS_DATABASE_URL — DSN PostgreSQL (пустая строка — каталог в памяти)
	cfg.DatabaseURL = getEnvDefault("AS_DATABASE_URL", "")

	// AS_GC_INTERVAL — интервал GC (по умолчанию 1h)
	cfg.GCInterval, err = getEnvDuration("AS_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AS_GC_INTERVAL: %w", err)
	}

	// AS_GC_GRACE — grace-период GC (по умолчанию 1h).
	// Blob моложе grace-периода может принадлежать ещё не закоммиченной
	// загрузке, GC его не удаляет.
	cfg.GCGracePeriod, err = getEnvDuration("AS_GC_GRACE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AS_GC_GRACE: %w", err)
	}

	// AS_CACHE_SIZE — размер LRU-кэша метаданных (по умолчанию 1024)
	cfg.CacheSize, err = getEnvInt("AS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("AS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("AS_CACHE_SIZE: значение должно быть положительным")
	}

	// AS_CACHE_TTL — TTL записи кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("AS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AS_CACHE_TTL: %w", err)
	}

	// AS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AS_LOG_LEVEL: %w", err)
	}

	// AS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// AS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("AS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// splitList разбивает строку списка через запятую, отбрасывая пустые элементы.
func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
