package detection

// RiskLevel is the ordinal severity attached to a detection event.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// Score thresholds used by the agent's scanner; kept identical here so
// server-side recomputation agrees with agent-supplied levels.
const (
	scoreCritical = 100
	scoreHigh     = 50
	scoreMedium   = 25
)

func (l RiskLevel) String() string {
	switch l {
	case RiskCritical:
		return "critical"
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *RiskLevel) UnmarshalText(text []byte) error {
	*l = ParseRiskLevel(string(text))
	return nil
}

// RiskFromScore maps a 0-100 risk score onto an ordinal level.
func RiskFromScore(score int) RiskLevel {
	switch {
	case score >= scoreCritical:
		return RiskCritical
	case score >= scoreHigh:
		return RiskHigh
	case score >= scoreMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ParseRiskLevel parses an agent-supplied level; unknown strings
// degrade to low rather than failing ingestion.
func ParseRiskLevel(raw string) RiskLevel {
	switch raw {
	case "critical":
		return RiskCritical
	case "high":
		return RiskHigh
	case "medium":
		return RiskMedium
	default:
		return RiskLow
	}
}
