package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"github.com/stretchr/testify/require"
)

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.log")

	logger, err := New("info", path)
	require.NoError(t, err)
	logger.Named("txn").Info("transaction confirmed", zap.Uint64("block", 42))
	logger.Debug("dropped")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(raw, &line))
	assert.Equal(t, "transaction confirmed", line["msg"])
	assert.Equal(t, "txn", line["logger"])
	assert.EqualValues(t, 42, line["block"])
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("loud", "")
	assert.Error(t, err)
}
