package main

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging configures the package-level logrus logger. With a log file set,
// output goes to a rotating file as well as stdout. The returned func closes
// the file.
func setupLogging(cfg *Config) func() {
	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	log.SetLevel(logLevel(cfg.LogLevel))

	if cfg.LogFile == "" {
		log.SetOutput(os.Stdout)
		return func() {}
	}

	fileName := cfg.LogFile
	if !strings.HasSuffix(fileName, ".log") {
		fileName += ".log"
	}
	rotating := &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    50, // megabytes
		MaxBackups: 10,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotating))
	log.Infof("writing logs to %s and stdout", fileName)
	return func() { _ = rotating.Close() }
}

// logLevel maps a config string to a logrus level, defaulting to info.
func logLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
