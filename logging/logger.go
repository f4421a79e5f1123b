package logging

import (
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

var Logger = &logrus.Logger{
	Out: os.Stdout,
	Formatter: &logrus.TextFormatter{
		DisableLevelTruncation: true,
		PadLevelText:           true,
		FullTimestamp:          true,
	},
	Hooks: make(logrus.LevelHooks),
	Level: logrus.InfoLevel,
}

// Configure applies the configured level and switches to JSON output in
// production.
func Configure(level string, production bool) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		Logger.WithFields(logrus.Fields{"module": "logging", "method": "Configure", "level": level}).Warn("unknown log level, keeping info")
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)

	if production {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Trace returns the frame of the caller.
func Trace() runtime.Frame {
	pc := make([]uintptr, 15)
	n := runtime.Callers(2, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()
	return frame
}
