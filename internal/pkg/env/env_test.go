package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":      "42",
		"INT_BAD":     "forty-two",
		"BIG_ID":      "715520483",
		"BOOL_OK":     "true",
		"DURATION_OK": "90s",
		"LIST_OK":     " 91.227.144.54, ,10.0.0.1 ",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 42, GetEnvInt("INT_OK", 1))
	assert.Equal(t, 1, GetEnvInt("INT_BAD", 1))
	assert.Equal(t, 7, GetEnvInt("INT_MISSING", 7))
	assert.Equal(t, int64(715520483), GetEnvInt64("BIG_ID", 0))
	assert.True(t, GetEnvBool("BOOL_OK", false))
	assert.True(t, GetEnvBool("BOOL_MISSING", true))
	assert.Equal(t, 90*time.Second, GetEnvDuration("DURATION_OK", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("DURATION_MISSING", time.Second))
	assert.Equal(t, []string{"91.227.144.54", "10.0.0.1"}, GetEnvList("LIST_OK", nil))
	assert.Equal(t, []string{"x"}, GetEnvList("LIST_MISSING", []string{"x"}))
}

func TestGetEnvFallsBackToOS(t *testing.T) {
	Env = map[string]string{}
	t.Cleanup(func() { Env = nil })
	t.Setenv("PAYBRIDGE_TEST_KEY", "from-os")

	assert.Equal(t, "from-os", GetEnv("PAYBRIDGE_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("PAYBRIDGE_UNSET_KEY", "def"))
}
