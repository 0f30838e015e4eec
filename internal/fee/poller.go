package fee

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ecowallet/relay-backend/internal/token"
)

// Quote is a cached fee for one token. Quotes go stale between polls;
// the next poll supersedes them and submission paths read whatever is
// latest rather than fetching on demand.
type Quote struct {
	Token     token.ID
	Amount    *big.Int
	UpdatedAt time.Time
}

// Poller refreshes fee quotes on a fixed interval, independent of any
// in-flight operation. It is the single writer of the quote cache.
type Poller struct {
	estimator *Estimator
	tokens    []token.ID
	interval  time.Duration
	logger    *log.Logger

	mu     sync.RWMutex
	quotes map[token.ID]Quote
}

func NewPoller(estimator *Estimator, tokens []token.ID, interval time.Duration, logger *log.Logger) *Poller {
	return &Poller{
		estimator: estimator,
		tokens:    tokens,
		interval:  interval,
		logger:    logger,
		quotes:    make(map[token.ID]Quote),
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.refresh(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	for _, id := range p.tokens {
		callCtx, cancel := context.WithTimeout(ctx, p.interval)
		amount, err := p.estimator.OperationFee(callCtx, id)
		cancel()
		if err != nil {
			// Keep the previous quote; stale beats absent, and a
			// missing quote blocks submission for that token.
			p.logger.Printf("fee refresh for %s failed: %v", id, err)
			continue
		}
		p.mu.Lock()
		p.quotes[id] = Quote{Token: id, Amount: amount, UpdatedAt: time.Now()}
		p.mu.Unlock()
	}
}

// Quote returns the latest cached fee for a token. ok is false until the
// first successful refresh.
func (p *Poller) Quote(id token.ID) (Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[id]
	return q, ok
}
