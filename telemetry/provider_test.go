package telemetry

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderExposesTracerAndMeter(t *testing.T) {
	p, err := New("flowmind-test", io.Discard)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
}

func TestProviderShutdownIsIdempotent(t *testing.T) {
	p, err := New("flowmind-test", io.Discard)
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}
