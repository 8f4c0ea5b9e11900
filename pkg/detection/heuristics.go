package detection

import (
	"context"
)

// ReportMatchStatus ingests one game-liveness probe. Three consecutive
// reports of "in match but game not running" raise a high-risk
// game_mismatch event; a confirmed match resets the streak.
func (p *Pipeline) ReportMatchStatus(ctx context.Context, accountID string, status GameStatus) error {
	p.mu.Lock()
	st := p.state(accountID)
	fire := false
	if status.InMatch && !status.GameRunning {
		st.mismatchStreak++
		if st.mismatchStreak >= p.cfg.MismatchThreshold {
			fire = true
			st.mismatchStreak = 0
		}
	} else {
		st.mismatchStreak = 0
	}
	p.mu.Unlock()

	if !fire {
		return nil
	}
	s := status
	return p.Process(ctx, accountID, Event{
		Category:  CategoryGameMismatch,
		RiskLevel: RiskHigh,
		Found:     true,
		Game:      &s,
	})
}

// ReportFocus ingests one window-focus sample into the rolling window.
// Once the window is full, an active ratio under the threshold counts a
// low-activity cycle; enough consecutive cycles raise a low_activity
// event and the counters restart.
func (p *Pipeline) ReportFocus(ctx context.Context, accountID string, sample FocusSample) error {
	if sample.At.IsZero() {
		sample.At = p.now()
	}

	p.mu.Lock()
	st := p.state(accountID)
	st.focusRing = append(st.focusRing, sample)
	if len(st.focusRing) < p.cfg.FocusWindow {
		p.mu.Unlock()
		return nil
	}
	active := 0
	for _, s := range st.focusRing {
		if s.Active {
			active++
		}
	}
	pct := active * 100 / len(st.focusRing)
	st.focusRing = st.focusRing[:0]

	fire := false
	if pct < p.cfg.ActivityThreshold {
		st.lowCycles++
		if st.lowCycles >= p.cfg.LowActivityCycles {
			fire = true
			st.lowCycles = 0
		}
	} else {
		st.lowCycles = 0
	}
	p.mu.Unlock()

	if !fire {
		return nil
	}
	return p.Process(ctx, accountID, Event{
		Category:  CategoryLowActivity,
		RiskLevel: RiskMedium,
		Found:     true,
		RiskScore: 100 - pct,
	})
}

// ReportSecurityFlags compares the reported snapshot against the last
// one seen for the account. Any downgrade of a protection flag raises a
// high-risk security_state event; upgrades and first reports are logged
// at low risk only when something actually changed.
func (p *Pipeline) ReportSecurityFlags(ctx context.Context, accountID string, flags SecurityFlags) error {
	p.mu.Lock()
	st := p.state(accountID)
	prev := st.prevFlags
	snapshot := flags
	st.prevFlags = &snapshot
	p.mu.Unlock()

	if prev == nil {
		return nil
	}
	changes := prev.Diff(flags)
	if len(changes) == 0 {
		return nil
	}

	level := RiskLow
	for _, c := range changes {
		if c.Downgrade {
			level = RiskHigh
			break
		}
	}
	for _, c := range changes {
		p.logger.Info().
			Str("account_id", accountID).
			Str("change", c.String()).
			Bool("downgrade", c.Downgrade).
			Msg("security flag changed")
	}
	f := flags
	return p.Process(ctx, accountID, Event{
		Category:  CategorySecurity,
		RiskLevel: level,
		Found:     level >= RiskHigh,
		Flags:     &f,
	})
}
