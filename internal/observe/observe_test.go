package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagefold/extract-cache/internal/config"
)

func TestConfigure_Disabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Configure(ctx, config.ObserveConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
}

func TestConfigure_Stdout(t *testing.T) {
	ctx := context.Background()
	cfg := config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "extract-cache-test",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	}

	shutdown, err := Configure(ctx, cfg)
	require.NoError(t, err)

	assert.NoError(t, shutdown(ctx))
}

func TestConfigure_StdoutWithoutMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := config.ObserveConfig{
		Enabled:                  true,
		MetricsEnabled:           false,
		Type:                     "stdout",
		ServiceName:              "extract-cache-test",
		TraceBatchTimeoutSeconds: 1,
	}

	shutdown, err := Configure(ctx, cfg)
	require.NoError(t, err)

	assert.NoError(t, shutdown(ctx))
}

func TestConfigure_UnknownExporter(t *testing.T) {
	ctx := context.Background()
	cfg := config.ObserveConfig{
		Enabled:     true,
		Type:        "carrier-pigeon",
		ServiceName: "extract-cache-test",
	}

	_, err := Configure(ctx, cfg)
	assert.ErrorContains(t, err, "unknown telemetry exporter")
}
