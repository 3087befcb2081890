package reporter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogReporter_TracksProgress(t *testing.T) {
	r := &logReporter{label: "test", total: 100, log: zap.NewNop(), every: logEvery(100)}
	r.Add(10)
	r.Add(40)
	require.Equal(t, 50, r.done)
	r.Finish()
}

func TestLogEvery_ScalesWithTotal(t *testing.T) {
	require.Equal(t, 10000, logEvery(0))
	require.Equal(t, 5, logEvery(5))
	require.Equal(t, 100, logEvery(2000))
}
