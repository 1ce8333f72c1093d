package store

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/wardenstack/fleet-warden/internal/models"
	"github.com/wardenstack/fleet-warden/internal/utils"
)

const (
	vitalsMeasurement  = "agent_vitals"
	eventsMeasurement  = "warden_events"
	healingMeasurement = "healing_outcomes"
)

// InfluxConfig holds connection parameters for the time-series backend.
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// Influx persists vitals and events to InfluxDB while delegating the
// process-local state queries (approvals, failure index, pattern summary) to
// an embedded in-memory store. Time-series reads go to Influx.
type Influx struct {
	*Memory
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	timeout  time.Duration
}

// NewInflux creates the Influx-backed store.
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		Memory:   NewMemory(),
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		timeout:  cfg.Timeout,
	}, nil
}

// WriteVitals writes the sample as a point tagged by agent id, mirroring it
// to the embedded memory store so latest/count queries stay cheap.
func (s *Influx) WriteVitals(ctx context.Context, v models.VitalSigns) error {
	if err := s.Memory.WriteVitals(ctx, v); err != nil {
		return err
	}
	point := influxdb2.NewPoint(
		vitalsMeasurement,
		map[string]string{"agent_id": v.AgentID},
		map[string]interface{}{
			"latency_ms":  v.LatencyMS,
			"token_count": v.TokenCount,
			"tool_calls":  v.ToolCalls,
			"retries":     v.Retries,
			"success":     v.Success,
		},
		v.Timestamp,
	)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return utils.NewAppError("influx.WriteVitals", "write point", fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return nil
}

// RecentVitals reads the trailing window from Influx, pivoting fields back
// into one sample per timestamp.
func (s *Influx) RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]models.VitalSigns, error) {
	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: -%ds)
		  |> filter(fn: (r) => r._measurement == %q)
		  |> filter(fn: (r) => r.agent_id == %q)
		  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
	`, s.bucket, int(window.Seconds()), vitalsMeasurement, agentID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, utils.NewAppError("influx.RecentVitals", "flux query", fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	var out []models.VitalSigns
	for result.Next() {
		record := result.Record()
		v := models.VitalSigns{AgentID: agentID, Timestamp: record.Time()}
		v.LatencyMS = floatField(record.ValueByKey("latency_ms"))
		v.TokenCount = floatField(record.ValueByKey("token_count"))
		v.ToolCalls = floatField(record.ValueByKey("tool_calls"))
		v.Retries = floatField(record.ValueByKey("retries"))
		if success, ok := record.ValueByKey("success").(bool); ok {
			v.Success = success
		}
		out = append(out, v)
	}
	if result.Err() != nil {
		return out, utils.NewAppError("influx.RecentVitals", "flux result", fmt.Errorf("%w: %v", ErrUnavailable, result.Err()))
	}
	return out, nil
}

// WriteInfectionEvent records the detection as an event point.
func (s *Influx) WriteInfectionEvent(ctx context.Context, report models.InfectionReport) error {
	if err := s.Memory.WriteInfectionEvent(ctx, report); err != nil {
		return err
	}
	return s.writeEvent(ctx, "infection", report.AgentID, map[string]interface{}{
		"severity":  report.Severity,
		"anomalies": len(report.Anomalies),
		"forced":    report.Forced,
		"episode":   report.EpisodeID,
	}, report.DetectedAt)
}

// WriteQuarantineEvent records containment transitions as event points.
func (s *Influx) WriteQuarantineEvent(ctx context.Context, agentID, action string) error {
	return s.writeEvent(ctx, "quarantine", agentID, map[string]interface{}{
		"action": action,
	}, time.Now().UTC())
}

// WriteHealingEvent records the outcome both in the immune index and as a
// time-series point.
func (s *Influx) WriteHealingEvent(ctx context.Context, outcome models.HealingOutcome) error {
	if err := s.Memory.WriteHealingEvent(ctx, outcome); err != nil {
		return err
	}
	point := influxdb2.NewPoint(
		healingMeasurement,
		map[string]string{
			"agent_id":  outcome.AgentID,
			"diagnosis": string(outcome.Diagnosis),
			"trigger":   string(outcome.Trigger),
		},
		map[string]interface{}{
			"action":    string(outcome.Action),
			"success":   outcome.Success,
			"exhausted": outcome.Exhausted,
		},
		outcome.Timestamp,
	)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return utils.NewAppError("influx.WriteHealingEvent", "write point", fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return nil
}

// Close flushes nothing (blocking writes) and releases the client.
func (s *Influx) Close() error {
	s.client.Close()
	return nil
}

func (s *Influx) writeEvent(ctx context.Context, kind, agentID string, fields map[string]interface{}, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	point := influxdb2.NewPoint(
		eventsMeasurement,
		map[string]string{"agent_id": agentID, "kind": kind},
		fields,
		ts,
	)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return utils.NewAppError("influx.writeEvent", kind, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return nil
}

func floatField(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}
