package blescard

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Logger is what a Session logs through. ChildLogger adds fields such as the
// reader address or matched profile to every line.
type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	ChildLogger(tags map[string]interface{}) Logger
}

var logger Logger
var loggerMu sync.Mutex

// Log formats accepted by ConfigureLogger.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ConfigureLogger replaces the package logger with a logrus logger writing to w
// at the given level name, in text or json format.
func ConfigureLogger(w io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}

	var f logrus.Formatter
	switch format {
	case LogFormatText, "":
		f = &logrus.TextFormatter{DisableTimestamp: true}
	case LogFormatJSON:
		f = &logrus.JSONFormatter{}
	default:
		return errors.Errorf("unknown log format %q", format)
	}

	SetLogger(newLogrusLogger(w, lvl, f))
	return nil
}

// SetLogLevel changes the level of the default logger. Names are logrus level names.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}

	l := GetLogger()
	if lg, ok := l.(*defaultLogger); ok {
		lg.Entry.Logger.SetLevel(lvl)
	} else {
		l.Warn("non-default logger, don't know how to set level")
	}
	return nil
}

func SetLogLevelMax() {
	_ = SetLogLevel(logrus.TraceLevel.String())
}

func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger == nil {
		logger = newLogrusLogger(os.Stderr, logrus.InfoLevel, &logrus.TextFormatter{DisableTimestamp: true})
	}

	return logger
}

type defaultLogger struct {
	*logrus.Entry
}

func newLogrusLogger(w io.Writer, lvl logrus.Level, f logrus.Formatter) Logger {
	l := &logrus.Logger{
		Formatter: f,
		Level:     lvl,
		Out:       w,
		Hooks:     make(logrus.LevelHooks),
	}

	return &defaultLogger{Entry: l.WithFields(logrus.Fields{"pkg": "blescard"})}
}

func (d *defaultLogger) ChildLogger(ff map[string]interface{}) Logger {
	return &defaultLogger{d.Entry.WithFields(ff)}
}
