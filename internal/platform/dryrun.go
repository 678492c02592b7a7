package platform

import (
	"context"
	"log"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// DryRunClient simulates the social platform. Every action is logged and
// recorded but nothing leaves the process, so agents can be exercised
// without credentials or rate limits.
type DryRunClient struct {
	logger *log.Logger

	mu      sync.Mutex
	posts   map[string][]string
	follows map[string][]string
	metrics map[string]map[string]float64
}

// NewDryRunClient creates a simulated platform surface.
func NewDryRunClient(logger *log.Logger) *DryRunClient {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLATFORM] ", log.LstdFlags)
	}
	return &DryRunClient{
		logger:  logger,
		posts:   map[string][]string{},
		follows: map[string][]string{},
		metrics: map[string]map[string]float64{},
	}
}

// SeedMetrics fixes the metrics reported for an account, for tests and demos.
func (c *DryRunClient) SeedMetrics(accountID string, metrics map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[accountID] = metrics
}

func (c *DryRunClient) PostContent(ctx context.Context, accountID, content string) (string, error) {
	id := uuid.New().String()
	c.mu.Lock()
	c.posts[accountID] = append(c.posts[accountID], content)
	c.mu.Unlock()
	c.logger.Printf("[dry-run] %s posts: %.80q", accountID, content)
	return id, nil
}

func (c *DryRunClient) Reply(ctx context.Context, accountID, inReplyTo, content string) (string, error) {
	id := uuid.New().String()
	c.mu.Lock()
	c.posts[accountID] = append(c.posts[accountID], content)
	c.mu.Unlock()
	c.logger.Printf("[dry-run] %s replies to %s: %.80q", accountID, inReplyTo, content)
	return id, nil
}

func (c *DryRunClient) Like(ctx context.Context, accountID, postID string) error {
	c.logger.Printf("[dry-run] %s likes %s", accountID, postID)
	return nil
}

func (c *DryRunClient) Repost(ctx context.Context, accountID, postID string) error {
	c.logger.Printf("[dry-run] %s reposts %s", accountID, postID)
	return nil
}

func (c *DryRunClient) Follow(ctx context.Context, accountID, targetHandle string) error {
	c.mu.Lock()
	c.follows[accountID] = append(c.follows[accountID], targetHandle)
	c.mu.Unlock()
	c.logger.Printf("[dry-run] %s follows %s", accountID, targetHandle)
	return nil
}

// FetchMetrics returns seeded metrics when present, otherwise a small
// synthetic reading that drifts with simulated activity.
func (c *DryRunClient) FetchMetrics(ctx context.Context, accountID string) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.metrics[accountID]; ok {
		return m, nil
	}
	activity := float64(len(c.posts[accountID]))
	return map[string]float64{
		"followers":       100 + activity*3 + float64(rand.Intn(5)),
		"engagement_rate": 1.5 + activity*0.1,
		"impressions":     1000 + activity*120,
	}, nil
}

func (c *DryRunClient) FetchTrending(ctx context.Context, keywords []string) ([]string, error) {
	base := []string{"open source", "ai agents", "devtools"}
	if len(keywords) > 0 {
		return append(keywords[:len(keywords):len(keywords)], base...), nil
	}
	return base, nil
}

// PostCount reports how many posts an account has made, for tests.
func (c *DryRunClient) PostCount(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posts[accountID])
}
