package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCounters(t *testing.T) {
	assert.Equal(t, "", formatCounters(nil))
	assert.Equal(t, "client_lines=11 messages_sent=10",
		formatCounters(map[string]int64{"messages_sent": 10, "client_lines": 11}))
}
