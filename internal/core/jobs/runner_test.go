package jobs

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestRunner_AddValidatesSchedule(t *testing.T) {
	r := NewRunner(quietLogger())

	require.NoError(t, r.Add("sweep", "@every 15s", func() {}))
	assert.Error(t, r.Add("sweep", "@every 1m", func() {}), "names are unique")
	assert.Error(t, r.Add("broken", "not a schedule", func() {}))

	jobs := r.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "sweep", jobs[0].Name)

	require.NoError(t, r.Remove("sweep"))
	assert.Error(t, r.Remove("sweep"))
	assert.Empty(t, r.Jobs())
}

func TestRunner_RunsAndRecoversPanics(t *testing.T) {
	r := NewRunner(quietLogger())

	var runs int32
	require.NoError(t, r.Add("count", "@every 1s", func() { atomic.AddInt32(&runs, 1) }))
	require.NoError(t, r.Add("panics", "@every 1s", func() { panic("boom") }))

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	assert.True(t, r.IsRunning())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > 0 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, r.Stop())
	assert.False(t, r.IsRunning())
	assert.Error(t, r.Stop())

	for _, job := range r.Jobs() {
		if job.Name == "count" {
			assert.NotNil(t, job.LastRun)
			assert.Positive(t, job.RunCount)
		}
	}
}
