package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("STATGATE_TEST_SET", "from-env")

	assert.Equal(t, "from-env", getEnvOrDefault("STATGATE_TEST_SET", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("STATGATE_TEST_UNSET", "fallback"))
}

func TestGetEnvOrDefaultIgnoresEmptyValue(t *testing.T) {
	t.Setenv("STATGATE_TEST_EMPTY", "")

	assert.Equal(t, "fallback", getEnvOrDefault("STATGATE_TEST_EMPTY", "fallback"))
}
