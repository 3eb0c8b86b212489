package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log является глобальным экземпляром логгера для всего приложения.
// До вызова Init это логгер logrus по умолчанию (stderr, info), поэтому
// пакеты можно использовать в тестах без инициализации.
var Log = logrus.New()

// Init настраивает глобальный логгер из LOG_LEVEL и LOG_FORMAT.
// Вызывается один раз при старте приложения в main.go.
func Init() {
	// По умолчанию - "info". Для отладки можно выставить "debug".
	logLevel, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		logLevel = "info"
	}
	Configure(logLevel, os.Getenv("LOG_FORMAT"), os.Stdout)
}

// Configure меняет Log на месте: компоненты, уже получившие Entry через
// Component, пишут с новыми настройками.
// "json" - для продакшена и сбора логов, иначе текст для разработки.
func Configure(level, format string, out io.Writer) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   out == os.Stdout,
		})
	}
	Log.SetOutput(out)
}

// Component возвращает логгер с полем component.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// Silence отключает вывод (тесты, бенчмарки).
func Silence() {
	Log.SetOutput(io.Discard)
}
