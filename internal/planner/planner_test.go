package planner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

func instrument(token, exchange string) *models.Instrument {
	return &models.Instrument{Token: token, Exchange: exchange, Kind: models.KindFuture}
}

func TestPlanDeduplicatesAndGroupsByExchange(t *testing.T) {
	p := New(50)
	batches := p.Plan([]*models.Instrument{
		instrument("300", "NFO"),
		instrument("100", "NSE"),
		instrument("300", "NFO"), // duplicate token
		instrument("200", "NFO"),
	})

	require.Len(t, batches, 2)
	assert.Equal(t, "NFO", batches[0].Exchange)
	assert.Equal(t, []string{"200", "300"}, batches[0].Tokens)
	assert.Equal(t, "NSE", batches[1].Exchange)
	assert.Equal(t, []string{"100"}, batches[1].Tokens)
}

func TestPlanChunksToBatchLimit(t *testing.T) {
	p := New(50)
	instruments := make([]*models.Instrument, 0, 120)
	for i := 0; i < 120; i++ {
		instruments = append(instruments, instrument(fmt.Sprintf("%04d", i), "NFO"))
	}

	batches := p.Plan(instruments)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Tokens, 50)
	assert.Len(t, batches[1].Tokens, 50)
	assert.Len(t, batches[2].Tokens, 20)

	// Deterministic: planning the same set again yields identical batches.
	assert.Equal(t, batches, p.Plan(instruments))
}

func TestPlanSkipsEmptyTokens(t *testing.T) {
	p := New(50)
	batches := p.Plan([]*models.Instrument{
		nil,
		{Token: "", Exchange: "NSE"},
		instrument("100", "NSE"),
	})

	require.Len(t, batches, 1)
	assert.Equal(t, []string{"100"}, batches[0].Tokens)
}
