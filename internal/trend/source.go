package trend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource reads topic metrics from a JSON endpoint, typically the scraper
// sidecar that watches platform trend pages.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source for the given endpoint.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) ListTopics(ctx context.Context) ([]TopicMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build trend request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trends: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch trends: status %d", resp.StatusCode)
	}

	var topics []TopicMetrics
	if err := json.NewDecoder(resp.Body).Decode(&topics); err != nil {
		return nil, fmt.Errorf("decode trends: %w", err)
	}

	// A source that omits timestamps observed them just now.
	now := time.Now()
	for i := range topics {
		if topics[i].ScrapedAt.IsZero() {
			topics[i].ScrapedAt = now
		}
	}
	return topics, nil
}

// StaticSource serves a fixed topic list, used in demos and as a last-resort
// stand-in when no scraper endpoint is configured.
type StaticSource struct {
	topics []TopicMetrics
}

// NewStaticSource creates a source over a fixed list.
func NewStaticSource(topics []TopicMetrics) *StaticSource {
	return &StaticSource{topics: topics}
}

func (s *StaticSource) ListTopics(ctx context.Context) ([]TopicMetrics, error) {
	out := make([]TopicMetrics, len(s.topics))
	copy(out, s.topics)
	now := time.Now()
	for i := range out {
		out[i].ScrapedAt = now
	}
	return out, nil
}
