package agents

import (
	"testing"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func TestKindRegistryAdd(t *testing.T) {
	tests := []struct {
		name     string
		kindName string
		command  string
		want     bool
	}{
		{name: "valid kind", kindName: "copyright", command: "copyright --scheduler", want: true},
		{name: "empty name", kindName: "", command: "cmd", want: false},
		{name: "empty command", kindName: "nomos", command: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewKindRegistry()
			assert.Equal(t, tt.want, r.Add(tt.kindName, tt.command, 2, false))
		})
	}
}

func TestKindRegistryRejectsDuplicates(t *testing.T) {
	r := NewKindRegistry()
	require.True(t, r.Add("copyright", "copyright", 2, false))
	assert.False(t, r.Add("copyright", "other", 4, true))

	// The original registration wins.
	k, ok := r.Get("copyright")
	require.True(t, ok)
	assert.Equal(t, "copyright", k.Command)
	assert.False(t, k.Exclusive)
}

func TestIsExclusive(t *testing.T) {
	r := NewKindRegistry()
	require.True(t, r.Add("copyright", "copyright", 2, false))
	require.True(t, r.Add("reindex", "reindex", 1, true))

	assert.False(t, r.IsExclusive("copyright"))
	assert.True(t, r.IsExclusive("reindex"))
	assert.False(t, r.IsExclusive("unknown"))
}

func TestMaxConcurrent(t *testing.T) {
	r := NewKindRegistry()
	require.True(t, r.Add("copyright", "copyright", 2, false))

	max, ok := r.MaxConcurrent("copyright")
	assert.True(t, ok)
	assert.Equal(t, 2, max)

	_, ok = r.MaxConcurrent("unknown")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	r := NewKindRegistry()
	require.True(t, r.Add("copyright", "copyright", 2, false))
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.Add("copyright", "copyright", 2, false), "clear allows re-registration")
}
