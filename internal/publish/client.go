package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsecast/pulsecast/internal/reward"
)

// Endpoints holds the API locations for one platform.
type Endpoints struct {
	UploadURL  string `yaml:"upload_url"`
	MetricsURL string `yaml:"metrics_url"` // post ID is appended as a path segment
	Token      string `yaml:"token"`
}

// APIClient talks to platform upload and analytics APIs. It implements both
// Publisher and MetricsSource.
type APIClient struct {
	endpoints map[string]Endpoints
	client    *http.Client
}

// NewAPIClient creates a client for the configured platforms.
func NewAPIClient(endpoints map[string]Endpoints, timeout time.Duration) *APIClient {
	return &APIClient{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
	}
}

type uploadRequest struct {
	Caption   string   `json:"caption"`
	Hashtags  []string `json:"hashtags"`
	MediaPath string   `json:"media_path"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

func (c *APIClient) Publish(ctx context.Context, platform string, asset *Asset) (*Result, error) {
	ep, ok := c.endpoints[platform]
	if !ok {
		return nil, fmt.Errorf("no endpoints configured for platform %s", platform)
	}

	body, err := json.Marshal(uploadRequest{
		Caption:   asset.Caption,
		Hashtags:  asset.Hashtags,
		MediaPath: asset.MediaPath,
	})
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.UploadURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload to %s: %w", platform, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var ur uploadResponse
		if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
			return nil, fmt.Errorf("decode upload response: %w", err)
		}
		return &Result{Success: true, PlatformPostID: ur.ID, StatusCode: resp.StatusCode}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Result{
			StatusCode: resp.StatusCode,
			RetryAfter: RetryAfterHeader(resp.Header.Get("Retry-After")),
		}, nil
	default:
		return &Result{StatusCode: resp.StatusCode}, nil
	}
}

func (c *APIClient) Outcome(ctx context.Context, platform, postID string) (reward.Outcome, error) {
	ep, ok := c.endpoints[platform]
	if !ok {
		return reward.Outcome{}, fmt.Errorf("no endpoints configured for platform %s", platform)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.MetricsURL+"/"+postID, nil)
	if err != nil {
		return reward.Outcome{}, fmt.Errorf("build metrics request: %w", err)
	}
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return reward.Outcome{}, fmt.Errorf("read metrics for %s: %w", postID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return reward.Outcome{}, fmt.Errorf("read metrics for %s: status %d", postID, resp.StatusCode)
	}

	var outcome reward.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return reward.Outcome{}, fmt.Errorf("decode metrics: %w", err)
	}
	return outcome, nil
}
