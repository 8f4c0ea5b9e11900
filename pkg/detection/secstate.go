package detection

import "fmt"

// SecurityFlags is the fixed set of boolean platform security switches
// reported on every heartbeat.
type SecurityFlags struct {
	SecureBoot         bool `json:"secureBoot"`
	TPM                bool `json:"tpm"`
	Virtualization     bool `json:"virtualization"`
	IOMMU              bool `json:"iommu"`
	VBS                bool `json:"vbs"`
	HVCI               bool `json:"hvci"`
	RealtimeProtection bool `json:"realtimeProtection"`
}

// FlagChange is one flip between two successive heartbeats. Downgrades
// (enabled -> disabled) are the suspicious direction.
type FlagChange struct {
	Name      string `json:"name"`
	From      bool   `json:"from"`
	To        bool   `json:"to"`
	Downgrade bool   `json:"downgrade"`
}

func (c FlagChange) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Name, onOff(c.From), onOff(c.To))
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

// Diff compares two snapshots and returns every flipped flag.
func (f SecurityFlags) Diff(next SecurityFlags) []FlagChange {
	var changes []FlagChange
	add := func(name string, from, to bool) {
		if from != to {
			changes = append(changes, FlagChange{Name: name, From: from, To: to, Downgrade: from && !to})
		}
	}
	add("secure_boot", f.SecureBoot, next.SecureBoot)
	add("tpm", f.TPM, next.TPM)
	add("virtualization", f.Virtualization, next.Virtualization)
	add("iommu", f.IOMMU, next.IOMMU)
	add("vbs", f.VBS, next.VBS)
	add("hvci", f.HVCI, next.HVCI)
	add("realtime_protection", f.RealtimeProtection, next.RealtimeProtection)
	return changes
}
