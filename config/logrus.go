package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logLevelFromEnv())
	logg.SetOutput(os.Stdout)
}

// Env: LOG_LEVEL (debug|info|warn|error), defaults to error.
func logLevelFromEnv() logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logrus.ErrorLevel
	}
	return level
}

// LogError records a failed operation under the fields the log pipeline
// indexes on: the operation, the stage inside it that failed, and the id of
// the record being worked on.
func LogError(logger *logrus.Logger, op string, stage string, subject any, err error) {
	logger.WithFields(logrus.Fields{
		"op":      op,
		"stage":   stage,
		"subject": subject,
	}).Error(err.Error())
}
