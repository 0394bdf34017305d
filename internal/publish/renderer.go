package publish

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var captionTemplates = []string{
	"You won't believe what's happening with %s right now",
	"The %s wave is just getting started",
	"Everyone is sleeping on %s",
	"%s explained in under a minute",
	"Why %s is everywhere this week",
}

var baseHashtags = []string{"#fyp", "#viral", "#trending"}

// CaptionRenderer builds a publishable asset from the selected topic using
// rotating caption templates. Media production happens in an external worker;
// the renderer only points at its drop directory.
type CaptionRenderer struct {
	mediaDir string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCaptionRenderer creates a renderer. rng may be nil.
func NewCaptionRenderer(mediaDir string, rng *rand.Rand) *CaptionRenderer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &CaptionRenderer{mediaDir: mediaDir, rng: rng}
}

func (r *CaptionRenderer) Render(ctx context.Context, topic string) (*Asset, error) {
	name := strings.TrimPrefix(topic, "#")
	if name == "" {
		return nil, fmt.Errorf("render: empty topic")
	}

	r.mu.Lock()
	template := captionTemplates[r.rng.Intn(len(captionTemplates))]
	r.mu.Unlock()

	hashtags := append([]string{"#" + name}, baseHashtags...)
	return &Asset{
		Topic:     topic,
		Caption:   fmt.Sprintf(template, name),
		Hashtags:  hashtags,
		MediaPath: fmt.Sprintf("%s/%s.mp4", strings.TrimRight(r.mediaDir, "/"), name),
		CreatedAt: time.Now(),
	}, nil
}
