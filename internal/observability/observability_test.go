package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info")

	logger.With("run_id", "r1").Info("Page fetched", "province", "mazowieckie", "page", 3)
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "Page fetched", entry["message"])
	require.Equal(t, "mazowieckie", entry["province"])
	require.Equal(t, float64(3), entry["page"])
	require.Equal(t, "r1", entry["run_id"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	require.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	require.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("whatever"))
}

func TestMetricsTextfile(t *testing.T) {
	m := NewMetrics()
	m.Documents.WithLabelValues("downloaded").Add(2)
	m.Pages.WithLabelValues("mazowieckie", "ok").Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(m.Documents.WithLabelValues("downloaded")))

	path := filepath.Join(t.TempDir(), "metrics", "run.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `tender_harvester_documents_total{result="downloaded"} 2`)

	require.NoError(t, m.WriteTextfile(""))
}
