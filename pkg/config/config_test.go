package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func writeSetup(t *testing.T, main string, kinds map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, MainFile), []byte(main), 0644))
	for name, content := range kinds {
		kindDir := filepath.Join(dir, KindDir, name)
		require.NoError(t, os.MkdirAll(kindDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(kindDir, name+".conf"), []byte(content), 0644))
	}
	return dir
}

func TestLoadMainConfig(t *testing.T) {
	dir := writeSetup(t, `
port: 5555
agent_dir: /usr/share/foreman/agents
user: foreman
check_interval: 30s
hosts:
  localhost: { address: localhost, dir: /ignored, max: 4 }
  crunch1:   { address: 10.0.0.12, dir: /opt/agents, max: 8 }
`, nil)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 5555, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval.Std())
	assert.Equal(t, dir, cfg.DataDir, "data_dir defaults to the setup root")

	// The localhost entry always runs agents from the configured agent_dir.
	assert.Equal(t, "/usr/share/foreman/agents", cfg.Hosts["localhost"].Dir)
	assert.Equal(t, "/opt/agents", cfg.Hosts["crunch1"].Dir)
}

func TestLoadDefaults(t *testing.T) {
	dir := writeSetup(t, "hosts:\n  localhost: { address: localhost, max: 1 }\n", nil)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCheckInterval, cfg.CheckInterval.Std())
	assert.Equal(t, DefaultJobRetention, cfg.JobRetention.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := writeSetup(t, "check_interval: quickly\n", nil)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadKinds(t *testing.T) {
	dir := writeSetup(t, "port: 1\n", map[string]string{
		"copyright": `
default:
  name: copyright
  command: copyright --scheduler
  max: 2
`,
		"reindex": `
default:
  name: reindex
  command: reindex
  max: 1
  special: [EXCLUSIVE]
`,
	})

	kinds, err := LoadKinds(dir)
	require.NoError(t, err)
	require.Len(t, kinds, 2)

	byName := map[string]*KindFile{}
	for _, k := range kinds {
		byName[k.Default.Name] = k
	}

	assert.Equal(t, "copyright --scheduler", byName["copyright"].Default.Command)
	assert.False(t, byName["copyright"].Exclusive())
	assert.True(t, byName["reindex"].Exclusive())
}

func TestLoadKindsSkipsBadEntries(t *testing.T) {
	dir := writeSetup(t, "port: 1\n", map[string]string{
		"good":    "default:\n  name: good\n  command: good\n  max: 1\n",
		"noname":  "default:\n  command: orphan\n  max: 1\n",
		"garbage": "{{{ not yaml",
	})

	// A directory without its conf file is skipped quietly.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, KindDir, "empty"), 0755))

	kinds, err := LoadKinds(dir)
	require.NoError(t, err)
	require.Len(t, kinds, 1)
	assert.Equal(t, "good", kinds[0].Default.Name)
}

func TestLoadKindsMissingDir(t *testing.T) {
	_, err := LoadKinds(t.TempDir())
	assert.Error(t, err)
}
