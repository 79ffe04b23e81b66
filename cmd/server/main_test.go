package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// countingSyncer records writes and flushes
type countingSyncer struct {
	writes int
	syncs  int
}

func (s *countingSyncer) Write(p []byte) (int, error) {
	s.writes++
	return len(p), nil
}

func (s *countingSyncer) Sync() error {
	s.syncs++
	return nil
}

func TestExitCode_LogsAndSyncsOnError(t *testing.T) {
	sink := &countingSyncer{}
	obsCore, logs := observer.New(zap.ErrorLevel)
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zap.InfoLevel),
		obsCore,
	)

	code := exitCode(zap.New(core), errors.New("mqtt connect: refused"))

	assert.Equal(t, 1, code)
	assert.Equal(t, 1, sink.writes)
	assert.Equal(t, 1, sink.syncs, "logger flushed before exit")
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "Pet tracker stopped with error", entries[0].Message)
		assert.Equal(t, "mqtt connect: refused", entries[0].ContextMap()["error"])
	}
}

func TestExitCode_CleanShutdown(t *testing.T) {
	sink := &countingSyncer{}
	logger := zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zap.InfoLevel))

	assert.Zero(t, exitCode(logger, nil))
	assert.Zero(t, sink.writes)
	assert.Equal(t, 1, sink.syncs)
}
