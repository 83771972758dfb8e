package cli

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/appcelera/pacer/pkg/types"
)

// simTransport fakes a backend for the demo and bench commands: random
// latency, a small rate of retryable 503s, deterministic bodies.
type simTransport struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func newSimTransport() *simTransport {
	return &simTransport{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (t *simTransport) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	t.mu.Lock()
	delay := time.Duration(t.rand.Intn(40)) * time.Millisecond
	flaky := t.rand.Intn(100) < 5
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	if flaky {
		return &types.Response{Status: 503}, nil
	}
	return &types.Response{
		Status: 200,
		Body:   []byte(fmt.Sprintf(`{"path":%q}`, req.Path)),
	}, nil
}
