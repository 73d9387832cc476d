package configbinder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
)

type pool struct {
	MaxOpenConns int `yaml:"max_open_conns"`
}

type section struct {
	Type string `yaml:"type"`
	Port int    `yaml:"port"`
	Pool pool   `yaml:"pool"`
}

func TestBindProperties_WeakTyping(t *testing.T) {
	var s section
	require.NoError(t, configbinder.BindProperties(map[string]interface{}{
		"type": "mysql",
		"port": "3306",
		"pool": map[string]interface{}{"max_open_conns": "5"},
	}, &s))
	assert.Equal(t, section{Type: "mysql", Port: 3306, Pool: pool{MaxOpenConns: 5}}, s)
}

func TestBindStringProperties(t *testing.T) {
	var s section
	require.NoError(t, configbinder.BindStringProperties(map[string]string{"port": "5432"}, &s))
	assert.Equal(t, 5432, s.Port)

	err := configbinder.BindStringProperties(map[string]string{"port": "abc"}, &s)
	assert.ErrorContains(t, err, "section")
}
