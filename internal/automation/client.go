// Package automation talks to the external workflow-automation service that
// performs the actual content optimization.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// Config describes the automation endpoint.
type Config struct {
	// EndpointURL is the workflow trigger URL jobs are posted to.
	EndpointURL string
	// BearerToken is attached as an Authorization header when set.
	BearerToken string
	// SiteURL identifies the dispatching installation.
	SiteURL string
	// Version is reported in the X-Optimizer-Version header.
	Version string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Client posts optimization jobs to the automation endpoint and decodes the
// typed result.
type Client struct {
	endpointURL string
	bearerToken string
	siteURL     string
	version     string
	client      *http.Client
	logger      *slog.Logger
}

const defaultTimeout = 2 * time.Minute

// NewClient validates the config and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.EndpointURL)
	if endpoint == "" {
		return nil, errors.New("automation endpoint url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpointURL: endpoint,
		bearerToken: strings.TrimSpace(cfg.BearerToken),
		siteURL:     strings.TrimSpace(cfg.SiteURL),
		version:     strings.TrimSpace(cfg.Version),
		client:      hc,
		logger:      logger.With("component", "automation_client"),
	}, nil
}

// optimizeRequest is the wire shape posted to the automation endpoint.
type optimizeRequest struct {
	JobID     string          `json:"job_id"`
	SubjectID int64           `json:"subject_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Optimize posts the job to the automation endpoint and returns its typed
// result. Failures carry the delivery error taxonomy: 4xx responses are
// permanent, transport errors and 5xx responses are transient. Malformed
// results are plain errors.
func (c *Client) Optimize(ctx context.Context, job *model.Job) (*model.OptimizationResult, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}

	body, err := json.Marshal(optimizeRequest{
		JobID:     job.ID,
		SubjectID: job.SubjectID,
		Payload:   job.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode optimize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create optimize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.version != "" {
		req.Header.Set("X-Optimizer-Version", c.version)
	}
	if c.siteURL != "" {
		req.Header.Set("X-Optimizer-Site", c.siteURL)
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &model.TransientDeliveryError{Err: fmt.Errorf("automation request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if statusErr := model.ClassifyStatus(resp.StatusCode); statusErr != nil {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if msg := strings.TrimSpace(string(respBody)); msg != "" {
			return nil, fmt.Errorf("automation responded %q: %w", msg, statusErr)
		}
		return nil, fmt.Errorf("automation request: %w", statusErr)
	}

	var result model.OptimizationResult
	if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil {
		return nil, fmt.Errorf("decode optimize result: %w", decodeErr)
	}
	if validateErr := result.Validate(); validateErr != nil {
		return nil, fmt.Errorf("automation result invalid: %w", validateErr)
	}

	c.logger.DebugContext(ctx, "optimization round trip",
		"job_id", job.ID,
		"score", result.Score,
		"duration", time.Since(start),
	)
	return &result, nil
}
