package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerCarriesServiceFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := withServiceFields(zap.New(core), "staging")

	l.Info("Order paid", zap.String("order_id", "o-1"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, ServiceName, fields["service"])
	assert.Equal(t, "staging", fields["env"])
	assert.Equal(t, "o-1", fields["order_id"])
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger("production"))
	assert.NotNil(t, GetLogger())
	SyncLogger()
}
