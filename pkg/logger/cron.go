package logger

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronLogger routes cron's internal logging through logrus.
type CronLogger struct {
	log *logrus.Logger
}

var _ cron.Logger = (*CronLogger)(nil)

func NewCronLogger(log *logrus.Logger) *CronLogger {
	return &CronLogger{log: log}
}

func (l *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fieldsOf(keysAndValues)).Debug(msg)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fieldsOf(keysAndValues)).Error(msg)
}

func fieldsOf(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
