package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"listings", "balances", "approve-token", "approve-nft", "list", "buy", "cancel", "history"} {
		c, ok := lookup(name)
		require.True(t, ok, name)
		assert.NotNil(t, c.run, name)
	}
	_, ok := lookup("mint")
	assert.False(t, ok)

	list, _ := lookup("list")
	assert.Equal(t, 2, list.args)
	assert.True(t, list.wallet)

	listings, _ := lookup("listings")
	assert.False(t, listings.wallet)
}

func TestRun_RejectsBadInvocations(t *testing.T) {
	var out bytes.Buffer

	err := run([]string{"teleport"}, &out)
	assert.ErrorContains(t, err, `unknown command "teleport"`)

	err = run([]string{"buy"}, &out)
	assert.ErrorContains(t, err, "usage: marketctl buy <token-id>")

	err = run([]string{"list", "1"}, &out)
	assert.ErrorContains(t, err, "usage: marketctl list <token-id> <price>")
}
