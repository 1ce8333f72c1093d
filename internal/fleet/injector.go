package fleet

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Wave is one scheduled chaos event: after the delay, the named agent is
// infected with the fault.
type Wave struct {
	After   time.Duration
	AgentID string
	Fault   Fault
}

// Injector applies scheduled chaos waves to the pool and, optionally, random
// infections at an interval after the waves are spent.
type Injector struct {
	pool     *Pool
	waves    []Wave
	interval time.Duration
	chance   float64
	rng      *rand.Rand
	logger   *slog.Logger
}

// NewInjector builds an injector over the pool. interval and chance control
// the random phase; interval <= 0 disables it.
func NewInjector(pool *Pool, waves []Wave, interval time.Duration, chance float64, seed int64, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		pool:     pool,
		waves:    waves,
		interval: interval,
		chance:   chance,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger,
	}
}

// DefaultWaves schedules one staged infection per known fault across the
// pool, spaced so earlier recoveries finish before the next wave lands.
func DefaultWaves(pool *Pool, start, spacing time.Duration) []Wave {
	agents := pool.Agents()
	faults := Faults()
	waves := make([]Wave, 0, len(faults))
	for i, fault := range faults {
		if len(agents) == 0 {
			break
		}
		waves = append(waves, Wave{
			After:   start + time.Duration(i)*spacing,
			AgentID: agents[i%len(agents)].ID(),
			Fault:   fault,
		})
	}
	return waves
}

// Run plays the waves in schedule order, then loops the random phase until
// the context is cancelled.
func (inj *Injector) Run(ctx context.Context) {
	started := time.Now()
	for _, wave := range inj.waves {
		delay := wave.After - time.Since(started)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		inj.infect(wave.AgentID, wave.Fault)
	}

	if inj.interval <= 0 {
		return
	}
	ticker := time.NewTicker(inj.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if inj.rng.Float64() >= inj.chance {
				continue
			}
			agents := inj.pool.Agents()
			if len(agents) == 0 {
				continue
			}
			target := agents[inj.rng.Intn(len(agents))]
			faults := Faults()
			inj.infect(target.ID(), faults[inj.rng.Intn(len(faults))])
		}
	}
}

func (inj *Injector) infect(agentID string, fault Fault) {
	agent := inj.pool.Get(agentID)
	if agent == nil {
		inj.logger.Warn("chaos target not in pool", slog.String("agent_id", agentID))
		return
	}
	if agent.Infect(fault) {
		inj.logger.Info("chaos injected",
			slog.String("agent_id", agentID),
			slog.String("fault", string(fault)))
	}
}
