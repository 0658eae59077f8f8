package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestForService_AddsServiceField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForService(NewFromZap(zap.New(core)), "billing-service")

	log.Info("Subscription created", "subject_id", "sub_1")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "billing-service", fields["service"])
	assert.Equal(t, "sub_1", fields["subject_id"])
}

func TestLeveled_FormatsMessages(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Leveled{Logger: NewFromZap(zap.New(core))}

	l.Debugf("request %s", "req_1")
	l.Warnf("retry %d", 2)
	l.Errorf("failed: %v", "boom")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "request req_1", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "failed: boom", entries[2].Message)
}

func TestNew_FallsBackToInfoOnBadLevel(t *testing.T) {
	log := New(Config{Level: "nonsense", Format: "json", Output: "stdout"})
	assert.NotNil(t, log)
}

func TestFields(t *testing.T) {
	kv := Fields(map[string]interface{}{"plan": "gold"})
	assert.Equal(t, []interface{}{"plan", "gold"}, kv)
}
