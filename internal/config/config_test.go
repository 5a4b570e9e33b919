package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, "data/vaultSet", cfg.Data.VaultSetDir)
	assert.Equal(t, "data/jsons/vaultHistory.json", cfg.Data.VaultHistoryPath)
	assert.Equal(t, "ETH-A", cfg.Analysis.CollateralType)
	assert.Equal(t, uint64(40000), cfg.Analysis.Window)
	assert.Equal(t, "liquidationStartLog", cfg.Analysis.LiquidationTag)
	assert.Equal(t, "earliest", cfg.Analysis.TieBreak)
	assert.Equal(t, "flag", cfg.Analysis.MissingVault)
	assert.Equal(t, 256, cfg.Analysis.BatchSize)
	assert.Equal(t, 100, cfg.Output.ChunkSize)
	assert.Empty(t, cfg.Output.ResultDir)
	assert.Equal(t, []string{"telegram"}, cfg.Alerting.Channels)
}

func TestLoadOverridesFromFileAndEnv(t *testing.T) {
	t.Setenv("VAULTRISK_ANALYSIS_COLLATERAL_TYPE", "WBTC-A")
	path := writeConfig(t, `
analysis:
  window: 1000
  tie_break: source
  missing_vault: skip
output:
  result_dir: out
  chunk_size: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WBTC-A", cfg.Analysis.CollateralType)
	assert.Equal(t, uint64(1000), cfg.Analysis.Window)
	assert.Equal(t, "source", cfg.Analysis.TieBreak)
	assert.Equal(t, "skip", cfg.Analysis.MissingVault)
	assert.Equal(t, "out", cfg.Output.ResultDir)
	assert.Equal(t, 5, cfg.Output.ChunkSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"window":        "analysis:\n  window: 0\n",
		"tie break":     "analysis:\n  tie_break: latest\n",
		"missing vault": "analysis:\n  missing_vault: panic\n",
		"chunk size":    "output:\n  chunk_size: 0\n",
		"batch size":    "analysis:\n  batch_size: -1\n",
		"telegram":      "alerting:\n  telegram:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	assert.Equal(t, 50, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 7, cfg.ResolveMaxPoints(7))
}
