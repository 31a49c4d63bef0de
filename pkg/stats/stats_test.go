package stats

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func labels(job string) map[string]string {
	return map[string]string{
		LabelJob:        job,
		LabelChain:      "algorand",
		LabelProtocol:   "wormhole",
		LabelCommitment: "finalized",
	}
}

func TestCount(t *testing.T) {
	repo := NewPromStatRepository("test", zap.NewNop())

	repo.Count("messages_total", labels("a"))
	repo.Count("messages_total", labels("a"), 2)
	repo.Count("messages_total", labels("b"))
	repo.Count("messages_total", labels("b"), -1)

	v, ok := repo.Value("messages_total", labels("a"))
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = repo.Value("messages_total", labels("b"))
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestCount_Concurrent(t *testing.T) {
	repo := NewPromStatRepository("test", zap.NewNop())

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				repo.Count("concurrent_total", labels("a"))
			}
		}()
	}
	wg.Wait()

	v, ok := repo.Value("concurrent_total", labels("a"))
	require.True(t, ok)
	assert.Equal(t, float64(workers*perWorker), v)
}

func TestMeasureAndDegraded(t *testing.T) {
	repo := NewPromStatRepository("test", zap.NewNop())

	repo.Measure("last_block", 42, map[string]string{LabelJob: "a"})
	repo.Measure("last_block", 43, map[string]string{LabelJob: "a"})
	SetDegraded(repo, "a", "algorand", true)

	v, ok := repo.Value("last_block", map[string]string{LabelJob: "a"})
	require.True(t, ok)
	assert.Equal(t, 43.0, v)

	v, ok = repo.Value(DegradedMetric, map[string]string{LabelJob: "a", LabelChain: "algorand"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	SetDegraded(repo, "a", "algorand", false)
	v, _ = repo.Value(DegradedMetric, map[string]string{LabelJob: "a", LabelChain: "algorand"})
	assert.Equal(t, 0.0, v)
}

func TestMismatchedUseIsIgnored(t *testing.T) {
	repo := NewPromStatRepository("test", zap.NewNop())

	repo.Count("mixed", labels("a"))
	repo.Measure("mixed", 5, labels("a"))
	repo.Count("mixed", map[string]string{LabelJob: "a"})
	repo.Count("bad-name", labels("a"))

	v, ok := repo.Value("mixed", labels("a"))
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = repo.Value("bad-name", labels("a"))
	assert.False(t, ok)
}

func TestReport(t *testing.T) {
	repo := NewPromStatRepository("test", zap.NewNop())
	repo.Count("messages_total", labels("a"))

	report, err := repo.Report()
	require.NoError(t, err)
	assert.True(t, strings.Contains(report, "# TYPE test_messages_total counter"))
	assert.True(t, strings.Contains(report, `job="a"`))
	assert.True(t, strings.Contains(report, "go_goroutines"))
}
