package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/subtracker/internal/metrics"
	"github.com/rcourtman/subtracker/pkg/entitlement"
)

// accessCounter is the store slice the state gauges need.
type accessCounter interface {
	CountAccessByState(ctx context.Context, now time.Time) (map[entitlement.State]int, error)
}

func runAccessStateMetrics(ctx context.Context, st accessCounter) {
	ticker := time.NewTicker(accessMetricsPeriod)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateAccessStateGauges(ctx, st, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateAccessStateGauges(ctx, st, time.Now())
		}
	}
}

func updateAccessStateGauges(ctx context.Context, st accessCounter, now time.Time) {
	counts, err := st.CountAccessByState(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update access state metrics")
		return
	}

	known := []string{
		string(entitlement.StateLifetime),
		string(entitlement.StatePremium),
		string(entitlement.StateTrial),
		string(entitlement.StateTrialExpired),
		string(entitlement.StateFree),
	}
	byName := make(map[string]int, len(counts))
	for state, n := range counts {
		byName[string(state)] = n
	}
	metrics.SetAccessStates(known, byName)
}
