package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wardenstack/fleet-warden/internal/cache"
	"github.com/wardenstack/fleet-warden/internal/models"
	"github.com/wardenstack/fleet-warden/internal/utils"
)

// RemoteConfig configures the remote persistence API.
type RemoteConfig struct {
	BaseURL     string
	Timeout     time.Duration
	BaselineTTL time.Duration
	PatternsTTL time.Duration
}

// Remote persists through a warden persistence API over HTTP JSON. Baseline
// and pattern-summary reads are cached through the configured provider;
// every other call is a single request with a per-call timeout.
type Remote struct {
	baseURL     string
	httpClient  *http.Client
	cache       cache.Provider
	baselineTTL time.Duration
	patternsTTL time.Duration
}

// NewRemote constructs the HTTP-backed store.
func NewRemote(cfg RemoteConfig, cacheProvider cache.Provider) *Remote {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Remote{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		cache:       cacheProvider,
		baselineTTL: cfg.BaselineTTL,
		patternsTTL: cfg.PatternsTTL,
	}
}

func (r *Remote) WriteVitals(ctx context.Context, v models.VitalSigns) error {
	return r.post(ctx, "/api/v1/warden/vitals", v, nil)
}

func (r *Remote) RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]models.VitalSigns, error) {
	var response struct {
		Vitals []models.VitalSigns `json:"vitals"`
	}
	query := url.Values{
		"agent_id":       {agentID},
		"window_seconds": {fmt.Sprintf("%d", int(window.Seconds()))},
	}
	if err := r.get(ctx, "/api/v1/warden/vitals/recent?"+query.Encode(), &response); err != nil {
		return nil, err
	}
	return response.Vitals, nil
}

func (r *Remote) LatestVitals(ctx context.Context, agentID string) (models.VitalSigns, error) {
	var response struct {
		Vitals *models.VitalSigns `json:"vitals"`
	}
	if err := r.get(ctx, "/api/v1/warden/vitals/latest?agent_id="+url.QueryEscape(agentID), &response); err != nil {
		return models.VitalSigns{}, err
	}
	if response.Vitals == nil {
		return models.VitalSigns{}, ErrNotFound
	}
	return *response.Vitals, nil
}

func (r *Remote) ExecutionCount(ctx context.Context, agentID string) (int64, error) {
	var response struct {
		Count int64 `json:"count"`
	}
	if err := r.get(ctx, "/api/v1/warden/vitals/count?agent_id="+url.QueryEscape(agentID), &response); err != nil {
		return 0, err
	}
	return response.Count, nil
}

func (r *Remote) WriteBaseline(ctx context.Context, profile models.BaselineProfile) error {
	_ = r.cache.Del(ctx, baselineKey(profile.AgentID))
	return r.post(ctx, "/api/v1/warden/baselines", profile, nil)
}

func (r *Remote) ReadBaseline(ctx context.Context, agentID string) (models.BaselineProfile, error) {
	key := baselineKey(agentID)
	if cached, err := r.cache.Get(ctx, key); err == nil {
		var profile models.BaselineProfile
		if err := json.Unmarshal(cached, &profile); err == nil {
			return profile, nil
		}
		_ = r.cache.Del(ctx, key)
	}

	var profile models.BaselineProfile
	if err := r.get(ctx, "/api/v1/warden/baselines/"+url.PathEscape(agentID), &profile); err != nil {
		return models.BaselineProfile{}, err
	}
	if payload, err := json.Marshal(profile); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.baselineTTL)
	}
	return profile, nil
}

func (r *Remote) WriteInfectionEvent(ctx context.Context, report models.InfectionReport) error {
	return r.post(ctx, "/api/v1/warden/infections", report, nil)
}

func (r *Remote) WriteQuarantineEvent(ctx context.Context, agentID, action string) error {
	payload := map[string]string{"agent_id": agentID, "action": action}
	return r.post(ctx, "/api/v1/warden/quarantine-events", payload, nil)
}

func (r *Remote) WriteApprovalEvent(ctx context.Context, req models.ApprovalRequest, decision string) error {
	payload := struct {
		models.ApprovalRequest
		Decision string `json:"decision"`
	}{ApprovalRequest: req, Decision: decision}
	return r.post(ctx, "/api/v1/warden/approval-events", payload, nil)
}

func (r *Remote) ReadPending(ctx context.Context) ([]models.ApprovalRequest, error) {
	return r.readApprovals(ctx, string(models.ApprovalPending))
}

func (r *Remote) ReadRejected(ctx context.Context) ([]models.ApprovalRequest, error) {
	return r.readApprovals(ctx, string(models.ApprovalRejected))
}

func (r *Remote) WriteHealingEvent(ctx context.Context, outcome models.HealingOutcome) error {
	_ = r.cache.Del(ctx, patternsKey)
	return r.post(ctx, "/api/v1/warden/healings", outcome, nil)
}

func (r *Remote) FailedActions(ctx context.Context, agentID string, diagnosis models.DiagnosisType) ([]models.HealingAction, error) {
	var response struct {
		Actions []models.HealingAction `json:"actions"`
	}
	query := url.Values{
		"agent_id":  {agentID},
		"diagnosis": {string(diagnosis)},
	}
	if err := r.get(ctx, "/api/v1/warden/failed-actions?"+query.Encode(), &response); err != nil {
		return nil, err
	}
	return response.Actions, nil
}

func (r *Remote) PatternSummary(ctx context.Context) (map[models.DiagnosisType]models.PatternStat, error) {
	if cached, err := r.cache.Get(ctx, patternsKey); err == nil {
		var summary map[models.DiagnosisType]models.PatternStat
		if err := json.Unmarshal(cached, &summary); err == nil {
			return summary, nil
		}
		_ = r.cache.Del(ctx, patternsKey)
	}

	var summary map[models.DiagnosisType]models.PatternStat
	if err := r.get(ctx, "/api/v1/warden/patterns", &summary); err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(summary); err == nil {
		_ = r.cache.Set(ctx, patternsKey, payload, r.patternsTTL)
	}
	return summary, nil
}

func (r *Remote) AppendActionLog(ctx context.Context, entry models.ActionLogEntry) error {
	return r.post(ctx, "/api/v1/warden/actions", entry, nil)
}

// Close releases the cache provider.
func (r *Remote) Close() error { return r.cache.Close() }

func (r *Remote) readApprovals(ctx context.Context, state string) ([]models.ApprovalRequest, error) {
	var response struct {
		Approvals []models.ApprovalRequest `json:"approvals"`
	}
	if err := r.get(ctx, "/api/v1/warden/approvals?state="+url.QueryEscape(state), &response); err != nil {
		return nil, err
	}
	return response.Approvals, nil
}

func (r *Remote) post(ctx context.Context, path string, payload, out interface{}) error {
	if r.baseURL == "" {
		return utils.NewAppError("remote.post", path, fmt.Errorf("%w: base URL not configured", ErrUnavailable))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.doRequest(req, path, out)
}

func (r *Remote) get(ctx context.Context, path string, out interface{}) error {
	if r.baseURL == "" {
		return utils.NewAppError("remote.get", path, fmt.Errorf("%w: base URL not configured", ErrUnavailable))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	return r.doRequest(req, path, out)
}

func (r *Remote) doRequest(req *http.Request, path string, out interface{}) error {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError("remote.doRequest", path, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return utils.NewAppError("remote.doRequest", path,
			fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewAppError("remote.doRequest", path, err)
	}
	return nil
}

func baselineKey(agentID string) string {
	return "warden:baseline:" + agentID
}

const patternsKey = "warden:patterns"
