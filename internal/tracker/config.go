package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/anchor"
	"github.com/JakeFAU/runwatch/internal/poll"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
)

// Default timings used when Config leaves a field zero.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultTick         = time.Second
)

// Config tunes session timing and the step pipeline.
type Config struct {
	Pipeline         progress.Pipeline
	Cadence          poll.Cadence
	ArtifactInterval time.Duration
	FetchTimeout     time.Duration
	Tick             time.Duration
}

// DefaultConfig returns the stock pipeline and polling cadence.
func DefaultConfig() Config {
	return Config{
		Pipeline:         progress.DefaultPipeline(),
		Cadence:          poll.DefaultCadence(),
		ArtifactInterval: poll.DefaultArtifacts,
		FetchTimeout:     DefaultFetchTimeout,
		Tick:             DefaultTick,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Pipeline.Steps) == 0 {
		c.Pipeline = def.Pipeline
	}
	if c.Cadence.Running <= 0 {
		c.Cadence.Running = def.Cadence.Running
	}
	if c.Cadence.Idle <= 0 {
		c.Cadence.Idle = def.Cadence.Idle
	}
	if c.ArtifactInterval <= 0 {
		c.ArtifactInterval = def.ArtifactInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	return c
}

// Tokens issues watch generation tokens.
type Tokens interface {
	Token() uuid.UUID
}

type randomTokens struct{}

func (randomTokens) Token() uuid.UUID { return uuid.New() }

// Deps are the collaborators shared by every session.
type Deps struct {
	Backend runs.Backend
	Anchors anchor.Store
	Clock   runs.Clock
	Events  progress.Emitter
	Tokens  Tokens
	Logger  *zap.Logger
}

func (d Deps) validate() error {
	if d.Backend == nil {
		return errors.New("backend is required")
	}
	if d.Anchors == nil {
		return errors.New("anchor store is required")
	}
	if d.Clock == nil {
		return errors.New("clock is required")
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = progress.NopEmitter{}
	}
	if d.Tokens == nil {
		d.Tokens = randomTokens{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

func checkConfig(cfg Config) error {
	if err := cfg.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := cfg.Cadence.Validate(); err != nil {
		return fmt.Errorf("cadence: %w", err)
	}
	return nil
}
