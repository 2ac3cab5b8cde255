package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_AppendChainsPerIncident(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	at := time.Now()

	for _, incidentID := range []string{"INC-1", "INC-2", "INC-1"} {
		ev := domain.TransitionEvent{IncidentID: incidentID, ActionID: "ACT-1", ToState: domain.ActionStateApproved, Timestamp: at}
		require.NoError(t, repo.Append(ctx, audit.NewTransitionRecord(ev)))
	}

	first, err := repo.ListByIncident(ctx, "INC-1")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.NoError(t, audit.Verify(first))
	assert.Less(t, first[0].Sequence, first[1].Sequence)

	second, err := repo.ListByIncident(ctx, "INC-2")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, audit.GenesisHash, second[0].PrevHash)
}

func TestRepository_ConcurrentAppendsKeepChain(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := audit.NewDecisionRecord("INC-1", "ACT-1", domain.Decision{Decision: "approve"}, time.Now())
			assert.NoError(t, repo.Append(ctx, rec))
		}()
	}
	wg.Wait()

	records, err := repo.ListByIncident(ctx, "INC-1")
	require.NoError(t, err)
	assert.Len(t, records, 50)
	assert.NoError(t, audit.Verify(records))
}

func TestRepository_ListUnknownIncident(t *testing.T) {
	records, err := NewRepository().ListByIncident(context.Background(), "INC-404")
	require.NoError(t, err)
	assert.Empty(t, records)
}
