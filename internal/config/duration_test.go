package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_YAML(t *testing.T) {
	var v struct {
		Timeout Duration `yaml:"timeout"`
		Empty   Duration `yaml:"empty"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 1m30s\nempty: \"\"\n"), &v))
	assert.Equal(t, 90*time.Second, v.Timeout.Duration())
	assert.Zero(t, v.Empty)

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 1m30s")

	assert.Error(t, yaml.Unmarshal([]byte("timeout: soon\n"), &v))
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &d))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"2s"`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`""`), &d))
	assert.Zero(t, d)
	assert.Error(t, json.Unmarshal([]byte(`5`), &d))
}
