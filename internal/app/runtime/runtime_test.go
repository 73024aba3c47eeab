package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/metrics"
)

func TestMetricsServerServesRegistry(t *testing.T) {
	m := metrics.New()
	m.IncPlayed()

	r := &Runtime{log: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())

	addr, err := r.startMetricsServer(ctx, "127.0.0.1:0", m)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		r.wg.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tts_items_played_total")
}
