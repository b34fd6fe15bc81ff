package kernelconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.toml")
	contents := "store_path = \"/tmp/smaragda.db\"\ndefault_branch = \"trunk\"\nschedule_tick_seconds = 30\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/smaragda.db", cfg.StorePath)
	require.Equal(t, "trunk", cfg.DefaultBranch)
	require.Equal(t, int(30), cfg.ScheduleTickSeconds)
}
