package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCollectors(reg)

	TokensIssued.WithLabelValues("access").Inc()
	require.GreaterOrEqual(t, testutil.ToFloat64(TokensIssued.WithLabelValues("access")), 1.0)

	// registering twice on the same registry is a programming error
	require.Panics(t, func() { RegisterCollectors(reg) })
}
