package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Strategy is one branch of an ordered fallback chain. Chains replace
// the ad hoc "try X, on failure quietly do Y" branching that media
// operations need (e.g. direct subtitle download degrading to local
// speech-to-text) with something testable on its own.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) (Result, error)
}

// RunStrategies tries each strategy in order and returns the first
// success together with the winning strategy's name. A cancelled or
// expired context stops the chain immediately; otherwise failures are
// collected and the chain moves on.
func RunStrategies(ctx context.Context, strategies []Strategy) (Result, string, error) {
	if len(strategies) == 0 {
		return Result{}, "", errors.New("no strategies to run")
	}
	var failures []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, "", err
		}
		res, err := s.Run(ctx)
		if err == nil {
			return res, s.Name, nil
		}
		if ctx.Err() != nil {
			return Result{}, "", ctx.Err()
		}
		log.Warn().Str("strategy", s.Name).Err(err).Msg("strategy failed, trying next")
		failures = append(failures, fmt.Errorf("%s: %w", s.Name, err))
	}
	return Result{}, "", fmt.Errorf("all strategies failed: %w", errors.Join(failures...))
}
