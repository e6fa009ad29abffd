package zerolog_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sockett/sockett.go/pkg/logger/zerolog"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := zerolog.New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, buff.Len(), 0)
	templogger.Info("Test", "attempt", 2)
	// Get Stats After
	require.Contains(t, buff.String(), "Test")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, float64(2), line["attempt"])
}

func TestLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := zerolog.New().FromBuffer(buff).Level("warn").Make()
	require.NoError(t, err)

	templogger.Debug("hidden")
	templogger.Info("hidden")
	require.Zero(t, buff.Len())

	templogger.Warn("shown")
	require.Contains(t, buff.String(), "shown")
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sockett.log")

	templogger, err := zerolog.New().FromPath(path).Make()
	require.NoError(t, err)
	templogger.Error("written", "code", 1006)
	require.NoError(t, templogger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"code":1006`)
}
