package config

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var appLogger = newLogger(os.Stdout)

// newLogger reads LOG_LEVEL (default error) and LOG_FORMAT ("json" default, or "text").
func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.ErrorLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

func GetLogger() *logrus.Logger {
	return appLogger
}

func fields(moduleName string, funcName string, data any) logrus.Fields {
	f := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
	}
	if data != nil {
		f["data"] = data
	}
	return f
}

// LogError records err with where it happened and what was being done.
func LogError(l *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if l == nil {
		l = appLogger
	}
	f := fields(moduleName, funcName, data)
	f["context"] = context
	l.WithFields(f).Error(err.Error())
}

func LogInfo(l *logrus.Logger, moduleName string, funcName string, message string, data any) {
	if l == nil {
		l = appLogger
	}
	l.WithFields(fields(moduleName, funcName, data)).Info(message)
}
