package incident

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/safetyhub/escalation-engine/internal/domain"
)

const defaultIncidentTimeout = 10 * time.Second

// HTTPClient talks to the incident platform's internal API. It implements
// both SnapshotProvider and Mutator so the engine can read open incidents
// and apply ESCALATE/ASSIGN/CUSTOM actions without owning incident state.
type HTTPClient struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	client := resty.New()
	client.SetTimeout(defaultIncidentTimeout)
	client.SetRetryCount(0)

	return NewHTTPClientWithResty(baseURL, client)
}

func NewHTTPClientWithResty(baseURL string, client *resty.Client) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("incident api url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid incident api url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	return &HTTPClient{client: client, baseURL: trimmed}, nil
}

type snapshotPayload struct {
	ID             string     `json:"id"`
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	Department     string     `json:"department"`
	Location       string     `json:"location"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastResponseAt *time.Time `json:"lastResponseAt,omitempty"`
}

type snapshotListResponse struct {
	Data []snapshotPayload `json:"data"`
}

func (c *HTTPClient) GetOpenIncidentSnapshots(ctx context.Context) ([]domain.IncidentSnapshot, error) {
	var body snapshotListResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(c.baseURL + "/internal/v1/incidents/open")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open incidents: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("incident api returned status %d", response.StatusCode())
	}

	snapshots := make([]domain.IncidentSnapshot, 0, len(body.Data))
	for _, item := range body.Data {
		snapshot, err := payloadToSnapshot(item)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (c *HTTPClient) Escalate(ctx context.Context, incidentID, target string, params map[string]string) error {
	return c.mutate(ctx, incidentID, "escalate", target, params)
}

func (c *HTTPClient) Assign(ctx context.Context, incidentID, target string, params map[string]string) error {
	return c.mutate(ctx, incidentID, "assign", target, params)
}

func (c *HTTPClient) Custom(ctx context.Context, incidentID, target string, params map[string]string) error {
	return c.mutate(ctx, incidentID, "actions", target, params)
}

type mutationRequest struct {
	Target     string            `json:"target"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Source     string            `json:"source"`
}

func (c *HTTPClient) mutate(ctx context.Context, incidentID, operation, target string, params map[string]string) error {
	if strings.TrimSpace(incidentID) == "" {
		return fmt.Errorf("%w: incident id is required", domain.ErrValidation)
	}

	endpoint := fmt.Sprintf("%s/internal/v1/incidents/%s/%s", c.baseURL, url.PathEscape(incidentID), operation)
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(mutationRequest{Target: target, Parameters: params, Source: "escalation-engine"}).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("incident %s request failed: %w", operation, err)
	}

	switch response.StatusCode() {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: incident %s", domain.ErrNotFound, incidentID)
	default:
		return fmt.Errorf("incident api returned status %d: %s", response.StatusCode(), strings.TrimSpace(response.String()))
	}
}

func payloadToSnapshot(p snapshotPayload) (domain.IncidentSnapshot, error) {
	severity, err := domain.ParseSeverityFromString(p.Severity)
	if err != nil {
		return domain.IncidentSnapshot{}, fmt.Errorf("incident %s: %w", p.ID, err)
	}
	status, err := domain.ParseIncidentStatusFromString(p.Status)
	if err != nil {
		return domain.IncidentSnapshot{}, fmt.Errorf("incident %s: %w", p.ID, err)
	}

	return domain.IncidentSnapshot{
		ID:             p.ID,
		Severity:       severity,
		Status:         status,
		Department:     p.Department,
		Location:       p.Location,
		CreatedAt:      p.CreatedAt,
		LastResponseAt: p.LastResponseAt,
	}, nil
}
