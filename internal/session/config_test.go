package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	err := Config{Port: -1, CloseTimeout: time.Second}.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"host is required",
		"port -1 out of range",
		"username is required",
		"prompt pattern is required",
		"login prompt",
		"password prompt",
		"login timeout must be positive",
		"overall timeout must be positive",
	} {
		assert.Contains(t, err.Error(), want)
	}
	assert.NotContains(t, err.Error(), "close timeout")
}
