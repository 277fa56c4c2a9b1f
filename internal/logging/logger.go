// Package logging provides config-driven, category-scoped file logging for the
// research engine. Logs are written to <data_dir>/logs/ with one file per
// category. Logging is controlled by debug_mode in the engine's YAML config —
// when false, no log files are created and calls are no-ops.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category identifies which subsystem a log line belongs to.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryScheduler Category = "scheduler"
	CategoryPolicy    Category = "policy"
	CategoryFetch     Category = "fetch"
	CategoryExtract   Category = "extract"
	CategoryInference Category = "inference"
	CategoryEvidence  Category = "evidence"
	CategoryAuthQueue Category = "authqueue"
	CategoryControl   Category = "control"
	CategoryStore     Category = "store"
	CategoryPipeline  Category = "pipeline"
	CategoryTask      Category = "task"
)

// loggingConfig mirrors the relevant slice of the engine's YAML config.
// Decoded independently here (rather than importing internal/config) to
// avoid a circular import, matching the teacher's own split.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// StructuredLogEntry is a JSON log line emitted when JSONFormat is enabled.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int
)

const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads the engine config from
// configPath (a YAML file). Safe to call more than once; later calls reload.
func Initialize(dataDir, configPath string) error {
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}
	logsDir = filepath.Join(dataDir, "logs")

	if err := loadConfig(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== research engine logging initialized ===")
	boot.Info("logs directory: %s", logsDir)
	boot.Info("debug mode: %v", config.DebugMode)
	boot.Info("log level: %s", config.Level)
	return nil
}

func loadConfig(configPath string) error {
	configMu.Lock()
	defer configMu.Unlock()

	if configPath == "" {
		config.DebugMode = false
		configLoaded = true
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse logging config: %w", err)
	}
	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// IsDebugMode reports whether file logging is currently enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled reports whether a given category should log.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or lazily creates) the logger for a category. Returns a no-op
// logger when debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error always logs, regardless of level filter, as long as the category is enabled.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a log entry with arbitrary structured fields attached.
func (l *Logger) StructuredLog(level, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	if config.JSONFormat {
		entry := StructuredLogEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     level,
			Message:   msg,
			Fields:    fields,
		}
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures operation duration and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in the given category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the elapsed time exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

// =============================================================================
// PER-CATEGORY CONVENIENCE HELPERS
// =============================================================================

func Scheduler(format string, args ...interface{})      { Get(CategoryScheduler).Info(format, args...) }
func SchedulerDebug(format string, args ...interface{})  { Get(CategoryScheduler).Debug(format, args...) }
func SchedulerWarn(format string, args ...interface{})   { Get(CategoryScheduler).Warn(format, args...) }
func SchedulerError(format string, args ...interface{})  { Get(CategoryScheduler).Error(format, args...) }

func Policy(format string, args ...interface{})     { Get(CategoryPolicy).Info(format, args...) }
func PolicyDebug(format string, args ...interface{}) { Get(CategoryPolicy).Debug(format, args...) }
func PolicyWarn(format string, args ...interface{})  { Get(CategoryPolicy).Warn(format, args...) }

func Fetch(format string, args ...interface{})      { Get(CategoryFetch).Info(format, args...) }
func FetchDebug(format string, args ...interface{})  { Get(CategoryFetch).Debug(format, args...) }
func FetchWarn(format string, args ...interface{})   { Get(CategoryFetch).Warn(format, args...) }
func FetchError(format string, args ...interface{})  { Get(CategoryFetch).Error(format, args...) }

func Extract(format string, args ...interface{})     { Get(CategoryExtract).Info(format, args...) }
func ExtractDebug(format string, args ...interface{}) { Get(CategoryExtract).Debug(format, args...) }

func Inference(format string, args ...interface{})     { Get(CategoryInference).Info(format, args...) }
func InferenceDebug(format string, args ...interface{}) { Get(CategoryInference).Debug(format, args...) }
func InferenceError(format string, args ...interface{}) { Get(CategoryInference).Error(format, args...) }

func Evidence(format string, args ...interface{})     { Get(CategoryEvidence).Info(format, args...) }
func EvidenceDebug(format string, args ...interface{}) { Get(CategoryEvidence).Debug(format, args...) }

func AuthQueue(format string, args ...interface{})     { Get(CategoryAuthQueue).Info(format, args...) }
func AuthQueueDebug(format string, args ...interface{}) { Get(CategoryAuthQueue).Debug(format, args...) }

func Control(format string, args ...interface{})     { Get(CategoryControl).Info(format, args...) }
func ControlDebug(format string, args ...interface{}) { Get(CategoryControl).Debug(format, args...) }
func ControlError(format string, args ...interface{}) { Get(CategoryControl).Error(format, args...) }

func Store(format string, args ...interface{})     { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func PipelineWarn(format string, args ...interface{})  { Get(CategoryPipeline).Warn(format, args...) }
func PipelineError(format string, args ...interface{}) { Get(CategoryPipeline).Error(format, args...) }

func Task(format string, args ...interface{})     { Get(CategoryTask).Info(format, args...) }
func TaskDebug(format string, args ...interface{}) { Get(CategoryTask).Debug(format, args...) }

var _ = configLoaded
