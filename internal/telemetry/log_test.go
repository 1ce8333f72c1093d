package telemetry

import (
	"testing"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
)

func sample(agentID string, age time.Duration, latency float64) models.VitalSigns {
	return models.VitalSigns{
		AgentID:   agentID,
		Timestamp: time.Now().Add(-age),
		LatencyMS: latency,
		Success:   true,
	}
}

func TestLogEvictsOldestWhenFull(t *testing.T) {
	log := NewLog(3)
	for i := 0; i < 5; i++ {
		log.Record(sample("a1", 0, float64(i)))
	}

	if got := log.Count("a1"); got != 3 {
		t.Fatalf("expected 3 buffered samples, got %d", got)
	}
	all := log.All("a1")
	if all[0].LatencyMS != 2 || all[2].LatencyMS != 4 {
		t.Fatalf("expected samples 2..4 in order, got %v", all)
	}
	if got := log.TotalExecutions(); got != 5 {
		t.Fatalf("expected 5 total executions, got %d", got)
	}
}

func TestLogRecentFiltersByWindow(t *testing.T) {
	log := NewLog(10)
	log.Record(sample("a1", 30*time.Second, 1))
	log.Record(sample("a1", 5*time.Second, 2))
	log.Record(sample("a1", time.Second, 3))

	recent := log.Recent("a1", 10*time.Second)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent samples, got %d", len(recent))
	}
	if recent[0].LatencyMS != 2 || recent[1].LatencyMS != 3 {
		t.Fatalf("expected arrival order preserved, got %v", recent)
	}
}

func TestLogLatest(t *testing.T) {
	log := NewLog(4)
	if _, ok := log.Latest("missing"); ok {
		t.Fatalf("expected no latest sample for unknown agent")
	}

	log.Record(sample("a1", 2*time.Second, 1))
	log.Record(sample("a1", 0, 2))
	latest, ok := log.Latest("a1")
	if !ok || latest.LatencyMS != 2 {
		t.Fatalf("expected latest latency 2, got %v ok=%v", latest.LatencyMS, ok)
	}
}

func TestLogAgentsIsolated(t *testing.T) {
	log := NewLog(4)
	log.Record(sample("a1", 0, 1))
	log.Record(sample("a2", 0, 9))

	if got := log.Count("a1"); got != 1 {
		t.Fatalf("expected 1 sample for a1, got %d", got)
	}
	all := log.All("a2")
	if len(all) != 1 || all[0].LatencyMS != 9 {
		t.Fatalf("expected a2 buffer untouched by a1 writes, got %v", all)
	}
}
