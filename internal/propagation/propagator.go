package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/star/gaiaviz/internal/metrics"
)

// Propagator orchestrates frame generation for a set of stars.
type Propagator struct {
	pool   *WorkerPool
	model  Model
	config PropConfig
	logger *slog.Logger
}

// NewPropagator creates a new propagation orchestrator. Zero config values
// fall back to runtime.NumCPU workers, the linear model and DefaultSteps.
func NewPropagator(config PropConfig, logger *slog.Logger) (*Propagator, error) {
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}
	if len(config.Steps) == 0 {
		config.Steps = DefaultSteps
	}
	model, err := NewModel(config.Model)
	if err != nil {
		return nil, err
	}
	config.Model = model.Name()

	return &Propagator{
		pool:   NewWorkerPool(config.Workers, logger),
		model:  model,
		config: config,
		logger: logger,
	}, nil
}

// Config returns the effective configuration.
func (p *Propagator) Config() PropConfig {
	cfg := p.config
	cfg.Steps = append([]float64(nil), p.config.Steps...)
	return cfg
}

// Model returns the motion model in use.
func (p *Propagator) Model() Model {
	return p.model
}

// PropagateToTime generates a single frame timeMyr after the catalog epoch.
func (p *Propagator) PropagateToTime(ctx context.Context, states []StarState, timeMyr float64) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Debug("propagating",
		"star_count", len(states),
		"t_myr", timeMyr,
		"model", p.model.Name(),
		"workers", p.config.Workers,
	)

	start := time.Now()
	positions, successCount, errorCount := p.pool.PropagateBatch(ctx, p.model, states, timeMyr)
	duration := time.Since(start)

	metrics.RecordPropagation(duration, successCount, errorCount)

	p.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"duration_ms", duration.Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Frame{
		TimeMyr: timeMyr,
		Stars:   positions,
	}, nil
}

// GenerateFrames generates one frame per configured time step, in order.
// On cancellation the frames produced so far are returned with ctx.Err().
func (p *Propagator) GenerateFrames(ctx context.Context, states []StarState) ([]*Frame, error) {
	frames := make([]*Frame, 0, len(p.config.Steps))

	for i, t := range p.config.Steps {
		select {
		case <-ctx.Done():
			return frames, ctx.Err()
		default:
		}

		f, err := p.PropagateToTime(ctx, states, t)
		if err != nil {
			return frames, fmt.Errorf("frame %d at %g Myr: %w", i, t, err)
		}
		frames = append(frames, f)
	}

	return frames, nil
}
