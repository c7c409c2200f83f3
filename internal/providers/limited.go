package providers

import "context"

// RateLimitedClient wraps an LLMClient so every request waits for rate
// limiter capacity first.
type RateLimitedClient struct {
	client  LLMClient
	limiter *RateLimiter
}

// NewRateLimitedClient wraps client with limiter. A nil limiter returns the
// client unchanged.
func NewRateLimitedClient(client LLMClient, limiter *RateLimiter) LLMClient {
	if limiter == nil {
		return client
	}
	return &RateLimitedClient{client: client, limiter: limiter}
}

// Name returns the wrapped client's identifier.
func (c *RateLimitedClient) Name() string {
	return c.client.Name()
}

// Chat waits for rate limiter capacity, then delegates.
func (c *RateLimitedClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.client.Chat(ctx, req)
}

var _ LLMClient = (*RateLimitedClient)(nil)
