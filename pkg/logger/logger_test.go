package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevelAndFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := New("debug", "json")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log = New("bogus", "text")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	t.Setenv("LOG_LEVEL", "error")
	assert.Equal(t, logrus.ErrorLevel, New("debug", "json").GetLevel())
}

func TestCronLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	NewCronLogger(log).Error(errors.New("boom"), "job failed", "entry", 3, 42, "ignored")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "job failed", line["msg"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, float64(3), line["entry"])
}

func TestBatchLoggerFlushesSummary(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	bl := NewBatchLogger(log, 2)
	bl.LogRequest("GET", "/api/v1/alerts", 200, time.Millisecond, nil)
	assert.Zero(t, buf.Len())

	bl.LogRequest("GET", "/api/v1/alerts", 200, 3*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "batch_summary")

	buf.Reset()
	bl.LogRequest("POST", "/api/v1/rules", 400, time.Millisecond, logrus.Fields{"client_ip": "127.0.0.1"})
	assert.Contains(t, buf.String(), "Status: 400")
}
