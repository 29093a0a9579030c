// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures log level, format, and optional file rotation.
// An empty filePath logs to stderr only.
func Setup(level string, filePath string) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	parsed, errParse := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if errParse != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	if strings.TrimSpace(filePath) == "" {
		log.SetOutput(os.Stderr)
		return
	}

	rotated := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotated))
}
