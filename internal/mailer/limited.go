package mailer

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles an inner Sender with a token bucket. Send blocks until a
// token is available or ctx is done.
type Limited struct {
	inner Sender
	lim   *rate.Limiter
}

// NewLimited wraps inner. perSec <= 0 returns inner unchanged.
func NewLimited(inner Sender, perSec float64, burst int) Sender {
	if perSec <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{inner: inner, lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *Limited) Send(ctx context.Context, email *Email) (string, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", err
	}
	return l.inner.Send(ctx, email)
}
