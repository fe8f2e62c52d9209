// Package logging provides config-driven categorized logging for reverie.
// Every subsystem logs through a category so a single runtime trace can be
// filtered down to the pipeline, the store, or the monologue loop. Output
// goes through zap; until Initialize is called every category is a no-op.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system.
type Category string

const (
	// Core runtime categories
	CategoryBoot        Category = "boot"        // startup and wiring
	CategoryStore       Category = "store"       // memory store operations
	CategoryVector      Category = "vector"      // ANN index operations
	CategoryEmbedding   Category = "embedding"   // embedding engine
	CategoryModel       Category = "model"       // model router and backends
	CategoryRegistry    Category = "registry"    // capability registration
	CategoryComposer    Category = "composer"    // state composition
	CategoryPipeline    Category = "pipeline"    // per-room message runs
	CategoryActions     Category = "actions"     // action validation/execution
	CategoryEvaluators  Category = "evaluators"  // post-run evaluators
	CategoryTasks       Category = "tasks"       // task queue and workers
	CategoryAutonomy    Category = "autonomy"    // monologue loop and settings poll
	CategorySettings    Category = "settings"    // settings surface reads/writes
	CategoryPerformance Category = "performance" // timers, slow operations
)

// Options mirrors the logging section of the runtime config to avoid a
// circular import with internal/config.
type Options struct {
	Level      string          // debug/info/warn/error, default info
	Categories map[string]bool // nil means all categories enabled
	JSON       bool            // structured output instead of console
	Path       string          // log file path, empty means stderr
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	opts    Options
	level   = zapcore.InfoLevel
	loggers = make(map[Category]*Logger)
	ready   bool
)

// Initialize builds the shared zap logger. Called once at startup; calling
// again replaces the sink (used by tests).
func Initialize(o Options) error {
	lvl := zapcore.InfoLevel
	switch o.Level {
	case "", "info":
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return fmt.Errorf("logging: unknown level %q", o.Level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	if !o.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if o.Path != "" {
		cfg.OutputPaths = []string{o.Path}
		cfg.ErrorOutputPaths = []string{o.Path}
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("logging: build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	opts = o
	level = lvl
	loggers = make(map[Category]*Logger)
	ready = true
	return nil
}

// SetLogger swaps the backing zap logger directly. Tests use this with
// zaptest or an observer core.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*Logger)
	ready = l != nil
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	l := root
	mu.RUnlock()
	_ = l.Sync()
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !ready {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true // enable by default if not specified
	}
	return enabled
}

// Logger is a category-scoped view over the shared zap logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger // nil when the category is disabled
}

// Get returns (or creates) a logger for the given category. Disabled
// categories get a no-op logger, so call sites never nil-check.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    root.Sugar().With("cat", string(category)),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying extra structured context.
func (l *Logger) With(kv ...any) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(kv...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...any) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...any) {
	Get(CategoryBoot).Debug(format, args...)
}

// BootError logs error to the boot category
func BootError(format string, args ...any) {
	Get(CategoryBoot).Error(format, args...)
}

// Store logs to the store category
func Store(format string, args ...any) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...any) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...any) {
	Get(CategoryStore).Warn(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...any) {
	Get(CategoryStore).Error(format, args...)
}

// Vector logs to the vector category
func Vector(format string, args ...any) {
	Get(CategoryVector).Info(format, args...)
}

// VectorDebug logs debug to the vector category
func VectorDebug(format string, args ...any) {
	Get(CategoryVector).Debug(format, args...)
}

// Embedding logs to the embedding category
func Embedding(format string, args ...any) {
	Get(CategoryEmbedding).Info(format, args...)
}

// EmbeddingDebug logs debug to the embedding category
func EmbeddingDebug(format string, args ...any) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// EmbeddingWarn logs warning to the embedding category
func EmbeddingWarn(format string, args ...any) {
	Get(CategoryEmbedding).Warn(format, args...)
}

// Model logs to the model category
func Model(format string, args ...any) {
	Get(CategoryModel).Info(format, args...)
}

// ModelDebug logs debug to the model category
func ModelDebug(format string, args ...any) {
	Get(CategoryModel).Debug(format, args...)
}

// ModelWarn logs warning to the model category
func ModelWarn(format string, args ...any) {
	Get(CategoryModel).Warn(format, args...)
}

// ModelError logs error to the model category
func ModelError(format string, args ...any) {
	Get(CategoryModel).Error(format, args...)
}

// Registry logs to the registry category
func Registry(format string, args ...any) {
	Get(CategoryRegistry).Info(format, args...)
}

// RegistryDebug logs debug to the registry category
func RegistryDebug(format string, args ...any) {
	Get(CategoryRegistry).Debug(format, args...)
}

// Composer logs to the composer category
func Composer(format string, args ...any) {
	Get(CategoryComposer).Info(format, args...)
}

// ComposerDebug logs debug to the composer category
func ComposerDebug(format string, args ...any) {
	Get(CategoryComposer).Debug(format, args...)
}

// ComposerWarn logs warning to the composer category
func ComposerWarn(format string, args ...any) {
	Get(CategoryComposer).Warn(format, args...)
}

// Pipeline logs to the pipeline category
func Pipeline(format string, args ...any) {
	Get(CategoryPipeline).Info(format, args...)
}

// PipelineDebug logs debug to the pipeline category
func PipelineDebug(format string, args ...any) {
	Get(CategoryPipeline).Debug(format, args...)
}

// PipelineWarn logs warning to the pipeline category
func PipelineWarn(format string, args ...any) {
	Get(CategoryPipeline).Warn(format, args...)
}

// PipelineError logs error to the pipeline category
func PipelineError(format string, args ...any) {
	Get(CategoryPipeline).Error(format, args...)
}

// Actions logs to the actions category
func Actions(format string, args ...any) {
	Get(CategoryActions).Info(format, args...)
}

// ActionsDebug logs debug to the actions category
func ActionsDebug(format string, args ...any) {
	Get(CategoryActions).Debug(format, args...)
}

// ActionsWarn logs warning to the actions category
func ActionsWarn(format string, args ...any) {
	Get(CategoryActions).Warn(format, args...)
}

// Evaluators logs to the evaluators category
func Evaluators(format string, args ...any) {
	Get(CategoryEvaluators).Info(format, args...)
}

// EvaluatorsWarn logs warning to the evaluators category
func EvaluatorsWarn(format string, args ...any) {
	Get(CategoryEvaluators).Warn(format, args...)
}

// Tasks logs to the tasks category
func Tasks(format string, args ...any) {
	Get(CategoryTasks).Info(format, args...)
}

// TasksDebug logs debug to the tasks category
func TasksDebug(format string, args ...any) {
	Get(CategoryTasks).Debug(format, args...)
}

// TasksWarn logs warning to the tasks category
func TasksWarn(format string, args ...any) {
	Get(CategoryTasks).Warn(format, args...)
}

// Autonomy logs to the autonomy category
func Autonomy(format string, args ...any) {
	Get(CategoryAutonomy).Info(format, args...)
}

// AutonomyDebug logs debug to the autonomy category
func AutonomyDebug(format string, args ...any) {
	Get(CategoryAutonomy).Debug(format, args...)
}

// AutonomyWarn logs warning to the autonomy category
func AutonomyWarn(format string, args ...any) {
	Get(CategoryAutonomy).Warn(format, args...)
}

// AutonomyError logs error to the autonomy category
func AutonomyError(format string, args ...any) {
	Get(CategoryAutonomy).Error(format, args...)
}

// Settings logs to the settings category
func Settings(format string, args ...any) {
	Get(CategorySettings).Info(format, args...)
}

// SettingsDebug logs debug to the settings category
func SettingsDebug(format string, args ...any) {
	Get(CategorySettings).Debug(format, args...)
}

// SettingsWarn logs a warning to the settings category
func SettingsWarn(format string, args ...any) {
	Get(CategorySettings).Warn(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(CategoryPerformance).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
