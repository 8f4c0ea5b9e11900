package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ggsecure/iris-server/pkg/alert"
)

// AllowList suppresses known-safe findings globally. Implemented by the
// server's whitelist store.
type AllowList interface {
	IsWhitelisted(typ Category, identifier, secondary string) (bool, error)
	Filter(typ Category, findings []Finding) ([]Finding, error)
}

// Enforcer applies a time-bounded restriction. Implementations must be
// idempotent and never shorten an existing restriction.
type Enforcer interface {
	Apply(ctx context.Context, accountID, category, reason string, duration time.Duration) error
}

// Config carries the pipeline's hand-tuned constants. Zero values fall
// back to the defaults the protocol was tuned with.
type Config struct {
	Channel           string
	Cooldown          time.Duration
	DefaultBan        time.Duration
	BanOverrides      map[Category]time.Duration
	MismatchThreshold int
	FocusWindow       int
	ActivityThreshold int // percent
	LowActivityCycles int
}

const (
	defaultCooldown          = 60 * time.Second
	defaultBan               = 24 * time.Hour
	defaultMismatchThreshold = 3
	defaultFocusWindow       = 10
	defaultActivityThreshold = 20
	defaultLowActivityCycles = 3
)

func (c *Config) withDefaults() {
	if c.Channel == "" {
		c.Channel = "iris-scan"
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.DefaultBan <= 0 {
		c.DefaultBan = defaultBan
	}
	if c.MismatchThreshold <= 0 {
		c.MismatchThreshold = defaultMismatchThreshold
	}
	if c.FocusWindow <= 0 {
		c.FocusWindow = defaultFocusWindow
	}
	if c.ActivityThreshold <= 0 {
		c.ActivityThreshold = defaultActivityThreshold
	}
	if c.LowActivityCycles <= 0 {
		c.LowActivityCycles = defaultLowActivityCycles
	}
}

type dedupKey struct {
	accountID string
	category  Category
	level     RiskLevel
}

type enforceKey struct {
	accountID string
	category  Category
}

// accountState holds the rolling counters behind the composite
// heuristics. Reset when the account disconnects.
type accountState struct {
	mismatchStreak int
	focusRing      []FocusSample
	lowCycles      int
	prevFlags      *SecurityFlags
}

// Pipeline is the detection decision point: allow-list, scoring, alert
// dedup and enforcement escalation. Safe for concurrent use.
type Pipeline struct {
	cfg        Config
	allow      AllowList
	dispatcher alert.Dispatcher
	enforcer   Enforcer
	now        func() time.Time
	logger     zerolog.Logger

	mu           sync.Mutex
	lastDispatch map[dedupKey]time.Time
	enforcedTill map[enforceKey]time.Time
	accounts     map[string]*accountState
}

func NewPipeline(cfg Config, allow AllowList, dispatcher alert.Dispatcher, enforcer Enforcer, now func() time.Time, logger zerolog.Logger) *Pipeline {
	cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		cfg:          cfg,
		allow:        allow,
		dispatcher:   dispatcher,
		enforcer:     enforcer,
		now:          now,
		logger:       logger.With().Str("component", "detection").Logger(),
		lastDispatch: make(map[dedupKey]time.Time),
		enforcedTill: make(map[enforceKey]time.Time),
		accounts:     make(map[string]*accountState),
	}
}

// Process runs one event through the pipeline. Dispatch failures are
// non-fatal: telemetry ingestion must keep acknowledging the agent even
// when the notification channel is down. Enforcement failures are
// returned because they represent an unapplied security decision.
func (p *Pipeline) Process(ctx context.Context, accountID string, ev Event) error {
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = p.now()
	}

	if ev.Category.ListBased() {
		kept, err := p.allow.Filter(ev.Category, ev.Findings)
		if err != nil {
			p.logger.Error().Err(err).Str("category", string(ev.Category)).Msg("allow-list lookup failed, processing unfiltered")
		} else {
			if len(ev.Findings) > 0 && len(kept) == 0 {
				return nil // everything known-safe
			}
			ev.Findings = kept
		}
	}

	if ev.RiskLevel == RiskLow && ev.RiskScore > 0 {
		ev.RiskLevel = RiskFromScore(ev.RiskScore)
	}

	now := p.now()
	suppressed := !p.shouldDispatch(accountID, ev.Category, ev.RiskLevel, now)
	if !suppressed {
		p.dispatch(ctx, accountID, ev)
	}

	if p.shouldEnforce(ev) {
		if err := p.enforce(ctx, accountID, ev, now); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) shouldEnforce(ev Event) bool {
	if !ev.Category.Enforceable() {
		return false
	}
	return ev.Found || ev.RiskLevel >= RiskHigh
}

// shouldDispatch is the 60s dedup gate per (account, category, level).
func (p *Pipeline) shouldDispatch(accountID string, cat Category, level RiskLevel, now time.Time) bool {
	key := dedupKey{accountID: accountID, category: cat, level: level}
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastDispatch[key]; ok && now.Sub(last) < p.cfg.Cooldown {
		return false
	}
	p.lastDispatch[key] = now
	return true
}

func (p *Pipeline) dispatch(ctx context.Context, accountID string, ev Event) {
	a := alert.Alert{
		Kind:      alert.KindDetection,
		AccountID: accountID,
		Category:  string(ev.Category),
		RiskLevel: ev.RiskLevel.String(),
		Payload:   alertPayload(ev),
		Timestamp: ev.ObservedAt,
	}
	if err := p.dispatcher.Dispatch(ctx, p.cfg.Channel, a); err != nil {
		p.logger.Warn().Err(err).Str("category", string(ev.Category)).Str("account_id", accountID).Msg("detection alert dropped")
	}
}

// enforce applies the restriction at most once per open restriction
// window, independent of alert dedup.
func (p *Pipeline) enforce(ctx context.Context, accountID string, ev Event, now time.Time) error {
	duration := p.cfg.DefaultBan
	if override, ok := p.cfg.BanOverrides[ev.Category]; ok {
		duration = override
	}

	key := enforceKey{accountID: accountID, category: ev.Category}
	p.mu.Lock()
	if till, ok := p.enforcedTill[key]; ok && now.Before(till) {
		p.mu.Unlock()
		return nil
	}
	p.enforcedTill[key] = now.Add(duration)
	p.mu.Unlock()

	reason := fmt.Sprintf("iris detection: %s (%s)", ev.Category, ev.RiskLevel)
	if err := p.enforcer.Apply(ctx, accountID, string(ev.Category), reason, duration); err != nil {
		// Roll back so the next qualifying event retries the restriction.
		p.mu.Lock()
		delete(p.enforcedTill, key)
		p.mu.Unlock()
		return fmt.Errorf("apply restriction: %w", err)
	}
	p.logger.Info().
		Str("account_id", accountID).
		Str("category", string(ev.Category)).
		Str("risk_level", ev.RiskLevel.String()).
		Dur("duration", duration).
		Msg("restriction applied")
	return nil
}

func alertPayload(ev Event) any {
	switch {
	case ev.Game != nil:
		return ev.Game
	case ev.Flags != nil:
		return ev.Flags
	case ev.Tamper != nil:
		return ev.Tamper
	case len(ev.Findings) > 0:
		return map[string]any{"riskScore": ev.RiskScore, "findings": ev.Findings}
	default:
		return map[string]any{"riskScore": ev.RiskScore, "found": ev.Found}
	}
}

// ResetAccount clears the rolling heuristic counters, typically when
// the agent session closes.
func (p *Pipeline) ResetAccount(accountID string) {
	p.mu.Lock()
	delete(p.accounts, accountID)
	p.mu.Unlock()
}

func (p *Pipeline) state(accountID string) *accountState {
	st, ok := p.accounts[accountID]
	if !ok {
		st = &accountState{}
		p.accounts[accountID] = st
	}
	return st
}
