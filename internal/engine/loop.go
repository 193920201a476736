package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"fib-trading-engine/internal/broker"
)

// Run drives a controller from a tick source until the source is exhausted
// or the context is cancelled. Each tick is handled to completion before the
// next is pulled, which keeps replayed sessions bit-identical to live ones
// fed the same quotes. OnTick errors are logged and the loop continues; the
// engine never dies on a single bad evaluation.
func Run(ctx context.Context, src broker.TickSource, ctrl *Controller, logger zerolog.Logger) error {
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Stop()

	log := logger.With().Str("component", "engine_loop").Logger()
	for {
		tick, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, broker.ErrStreamDone):
				log.Info().Msg("tick source exhausted")
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				log.Info().Msg("shutdown requested")
				return nil
			default:
				return err
			}
		}
		if err := ctrl.OnTick(ctx, tick); err != nil {
			log.Error().Err(err).Time("tick_time", tick.Time).Msg("tick handling failed")
		}
	}
}
