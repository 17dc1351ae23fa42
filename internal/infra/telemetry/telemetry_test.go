package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false, Environment: "Staging"})
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Meter("test"))
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, "staging", Environment())
}

func TestEnvironmentDefault(t *testing.T) {
	SetEnvironment("  ")
	require.Equal(t, "development", Environment())
	SetEnvironment("PROD")
	require.Equal(t, "prod", Environment())
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestAttributeHelpers(t *testing.T) {
	attrs := EventAttributes("dev", "Ticker", "", "BTCUSDT")
	require.Len(t, attrs, 3)
	require.Equal(t, AttrSymbol, attrs[2].Key)

	attrs = StreamAttributes("dev", "market", "")
	require.Len(t, attrs, 2)
	require.Len(t, ErrorAttributes("dev", "decode", "read"), 3)
}
