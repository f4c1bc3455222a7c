// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать основное приложение. Записи уходят в slog: в разработке через
// tint (цветной текст), в production в JSON.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

const asyncBufferSize = 8192

type entry struct {
	level slog.Level
	msg   string
}

// prefix и logLevel меняются из main, а читаются из горутин запросов и воркера.
var (
	prefix   atomic.Value // string
	logLevel atomic.Int64 // slog.Level
	ch       chan entry
	once     sync.Once
	sink     *slog.Logger
)

func init() {
	prefix.Store("")
	logLevel.Store(int64(slog.LevelInfo))
}

func lvl() slog.Level { return slog.Level(logLevel.Load()) }

func parseLevel(s string) slog.Level {
	switch s {
	case "debug", "trace":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newSink() *slog.Logger {
	if os.Getenv("APP_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.DateTime,
	}))
}

func initWorker() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		logLevel.Store(int64(parseLevel(v)))
	}
	sink = newSink()
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			if p, _ := prefix.Load().(string); p != "" {
				sink.Log(context.Background(), e.level, e.msg, "service", p)
			} else {
				sink.Log(context.Background(), e.level, e.msg)
			}
		}
	}()
}

func enqueue(level slog.Level, msg string) {
	once.Do(initWorker)
	if level < lvl() {
		return
	}
	select {
	case ch <- entry{level: level, msg: msg}:
	default:
		// Буфер полон: не блокируем, теряем лог
	}
}

// SetPrefix задаёт имя сервиса для всех последующих логов (например "api").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переопределяет уровень из LOG_LEVEL (значение из конфигурации).
func SetLevel(level string) {
	once.Do(initWorker)
	if level != "" {
		logLevel.Store(int64(parseLevel(level)))
	}
}

func Debugf(format string, v ...any) {
	enqueue(slog.LevelDebug, fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(slog.LevelInfo, fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(slog.LevelInfo, fmt.Sprintf(format, v...))
}

// Error пишет ошибку (асинхронно).
func Error(v ...any) {
	enqueue(slog.LevelError, fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(slog.LevelError, fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При уровне info логирует только вызовы дольше 100ms; при debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if lvl() <= slog.LevelDebug || elapsed >= 100*time.Millisecond {
		enqueue(slog.LevelInfo, fmt.Sprintf("fn=%s duration_ms=%d", fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("chat.Create", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
