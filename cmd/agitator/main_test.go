package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountResult(t *testing.T) {
	stats := &Stats{}

	countResult([]byte(`{"type":"result","action":"CLICK","result":{"accepted":true}}`), stats)
	countResult([]byte(`{"type":"result","action":"CLICK","result":{"accepted":false}}`), stats)
	countResult([]byte(`{"type":"result","action":"PURCHASE","error":"insufficient funds"}`), stats)
	countResult([]byte(`{"type":"state","state":{}}`), stats)
	countResult([]byte(`garbage`), stats)
	countResult([]byte(`{"type":"error","error":"rate limited"}`), stats)

	assert.Equal(t, int64(1), stats.ClicksAccepted)
	assert.Equal(t, int64(1), stats.ClicksRejected)
	assert.Equal(t, int64(1), stats.PurchasesRejected)
	assert.Equal(t, int64(0), stats.PurchasesAccepted)
	assert.Equal(t, int64(1), stats.RateLimited)
}

func TestGenerateAction(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	assert.Equal(t, "CLICK", generateAction(rng, 0)["type"])

	a := generateAction(rng, 1)
	assert.Equal(t, "PURCHASE", a["type"])
	assert.Contains(t, upgradeIDs, a["upgrade_id"])
}

func TestDefaultClientsFitServerCap(t *testing.T) {
	f := rootCmd.Flags().Lookup("clients")
	require.NotNil(t, f)
	assert.Equal(t, "8", f.DefValue)
}
