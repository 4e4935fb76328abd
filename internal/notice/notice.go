package notice

import (
	"context"
	"log"
)

// Severity levels understood by the dashboard.
const (
	SeverityRed    = "red"
	SeverityYellow = "yellow"
)

// Notice is a banner shown next to the metrics.
type Notice struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Provider computes an optional notice. A nil notice with a nil error means
// the provider has nothing to say.
type Provider interface {
	Name() string
	Notice(ctx context.Context) (*Notice, error)
}

// Chain evaluates providers in priority order.
type Chain []Provider

// Notice returns the first non-nil notice. Provider errors are logged and
// the next provider is tried.
func (c Chain) Notice(ctx context.Context) *Notice {
	for _, p := range c {
		n, err := p.Notice(ctx)
		if err != nil {
			log.Printf("[notice] %s: %v", p.Name(), err)
			continue
		}
		if n != nil {
			return n
		}
	}
	return nil
}
