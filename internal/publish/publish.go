// Package publish defines the platform-facing side of the pipeline: rendering
// an asset for a chosen topic, pushing it to a platform, and reading back its
// performance metrics once the measurement window has passed.
package publish

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pulsecast/pulsecast/internal/reward"
)

// Asset is a rendered piece of content ready for upload.
type Asset struct {
	Topic     string    `json:"topic"`
	Caption   string    `json:"caption"`
	Hashtags  []string  `json:"hashtags"`
	MediaPath string    `json:"media_path"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is the outcome of one publish attempt. RetryAfter carries the
// platform's throttle hint when StatusCode is 429; zero means the platform
// sent none and the caller should use its own backoff schedule.
type Result struct {
	Success        bool          `json:"success"`
	PlatformPostID string        `json:"platform_post_id,omitempty"`
	StatusCode     int           `json:"status_code"`
	RetryAfter     time.Duration `json:"retry_after,omitempty"`
}

// Throttled reports whether the attempt hit platform rate limiting.
func (r Result) Throttled() bool { return r.StatusCode == http.StatusTooManyRequests }

// Renderer produces an uploadable asset for a topic.
type Renderer interface {
	Render(ctx context.Context, topic string) (*Asset, error)
}

// Publisher uploads an asset to a named platform.
type Publisher interface {
	Publish(ctx context.Context, platform string, asset *Asset) (*Result, error)
}

// MetricsSource reads the realized performance of a published post.
type MetricsSource interface {
	Outcome(ctx context.Context, platform, postID string) (reward.Outcome, error)
}

// RetryAfterHeader parses a Retry-After response header value. Only the
// delta-seconds form is honored; HTTP-date values and garbage yield zero.
func RetryAfterHeader(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
