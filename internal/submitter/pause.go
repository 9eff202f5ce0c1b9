package submitter

import (
	"context"
	"time"
)

// Pauser abstracts how the runner waits between submissions.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauser struct{}

func (p *timerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
