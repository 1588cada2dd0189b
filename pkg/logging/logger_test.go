package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggingBeforeInitIsNoop(t *testing.T) {
	SetLogger(nil)

	assert.NotPanics(t, func() {
		Infof("hello %s", "world")
		Errorf("boom")
		Sync()
	})
}

func TestSetLoggerRoutesLevels(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	Debugf("d %d", 1)
	Infof("i %d", 2)
	Warnf("w %d", 3)
	Errorf("e %d", 4)

	entries := observed.All()
	if assert.Len(t, entries, 4) {
		assert.Equal(t, "d 1", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
		assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	}
}

func TestInitLoggingRejectsBadLevel(t *testing.T) {
	assert.Error(t, InitLogging("loud"))
	assert.NoError(t, InitLogging("debug"))
	SetLogger(nil)
}
