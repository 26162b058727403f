package refresh

import (
	"math/rand"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	StaleAfter          time.Duration // default: 30 minutes
	StaleJitter         time.Duration // default: 5 minutes
	DeliveredStaleAfter time.Duration // default: 24 hours
	ParseTargetCooldown time.Duration // default: 24 hours

	Backoff1 time.Duration // default: 1 minute
	Backoff2 time.Duration // default: 5 minutes
	Backoff3 time.Duration // default: 15 minutes
	Backoff4 time.Duration // default: 30 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		StaleAfter:          30 * time.Minute,
		StaleJitter:         5 * time.Minute,
		DeliveredStaleAfter: 24 * time.Hour,
		ParseTargetCooldown: 24 * time.Hour,

		Backoff1: 1 * time.Minute,
		Backoff2: 5 * time.Minute,
		Backoff3: 15 * time.Minute,
		Backoff4: 30 * time.Minute,
	}
}

// Planner decides when a package becomes stale again after an attempt.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.StaleJitter < 0 {
		cfg.StaleJitter = 0
	}
	if cfg.DeliveredStaleAfter <= 0 {
		cfg.DeliveredStaleAfter = def.DeliveredStaleAfter
	}
	if cfg.ParseTargetCooldown <= 0 {
		cfg.ParseTargetCooldown = def.ParseTargetCooldown
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) Config() PlannerConfig { return p.cfg }

// AfterSuccess spreads refreshes with jitter so packages added together
// don't all go stale in the same minute.
func (p *Planner) AfterSuccess(now time.Time, latest models.Stage) *time.Time {
	d := p.cfg.StaleAfter
	if latest == models.StageDelivered {
		d = p.cfg.DeliveredStaleAfter
	} else if sec := int(p.cfg.StaleJitter.Seconds()); sec > 0 {
		d += time.Duration(p.r.Intn(sec+1)) * time.Second
	}
	t := now.Add(d)
	return &t
}

// AfterFailure returns nil for failures that must never be retried automatically.
func (p *Planner) AfterFailure(now time.Time, kind models.FailureKind, failCount int32) *time.Time {
	var d time.Duration
	switch kind {
	case models.FailureNotFound, models.FailureUnsupported:
		return nil
	case models.FailureParseTarget:
		d = p.cfg.ParseTargetCooldown
	default:
		d = p.BackoffDelay(failCount)
	}
	t := now.Add(d)
	return &t
}

func (p *Planner) BackoffDelay(failCount int32) time.Duration {
	switch {
	case failCount <= 1:
		return p.cfg.Backoff1
	case failCount == 2:
		return p.cfg.Backoff2
	case failCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
