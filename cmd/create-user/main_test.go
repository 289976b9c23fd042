package main

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTimezone(t *testing.T) {
	tz, err := normalizeTimezone("")
	require.NoError(t, err)
	assert.Equal(t, "UTC", tz)

	tz, err = normalizeTimezone("Europe/Istanbul")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Istanbul", tz)

	_, err = normalizeTimezone("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestPrompt_TrimsInput(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("  alice \nsecond\n"))
	assert.Equal(t, "alice", prompt(r, "Username"))
	assert.Equal(t, "second", prompt(r, "Email"))
	assert.Equal(t, "", prompt(r, "Password"))
}

func TestSubscriptionFor(t *testing.T) {
	assert.Equal(t, "premium", subscriptionFor(true))
	assert.Equal(t, "free", subscriptionFor(false))
}

func TestParseSubscriptionArg(t *testing.T) {
	user, status, err := parseSubscriptionArg("alice=premium")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "premium", status)

	user, status, err = parseSubscriptionArg(" bob = free ")
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
	assert.Equal(t, "free", status)

	for _, bad := range []string{"alice", "=premium", "alice=gold", "alice="} {
		_, _, err := parseSubscriptionArg(bad)
		assert.Error(t, err, bad)
	}
}
