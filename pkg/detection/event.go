// Package detection classifies and scores security telemetry reported
// by the desktop agent, suppresses allow-listed findings, deduplicates
// repeated alerts and decides when a finding escalates into an account
// restriction.
package detection

import "time"

// Category identifies the kind of telemetry a detection event carries.
type Category string

const (
	CategoryDriver       Category = "driver"
	CategoryProcess      Category = "process"
	CategoryRegistry     Category = "registry"
	CategoryMacro        Category = "macro"
	CategoryOverlay      Category = "overlay"
	CategoryDLL          Category = "dll"
	CategoryVPNAdapter   Category = "vpn_adapter"
	CategoryVPNProcess   Category = "vpn_process"
	CategoryUSBDevice    Category = "usb_device"
	CategoryCheatWindow  Category = "cheat_window"
	CategoryCheatDevice  Category = "cheat_device"
	CategoryCheatProcess Category = "cheat_process"
	CategoryVM           Category = "vm"
	CategoryCloudPC      Category = "cloud_pc"
	CategoryNetwork      Category = "network"
	CategoryGameMismatch Category = "game_mismatch"
	CategoryLowActivity  Category = "low_activity"
	CategorySecurity     Category = "security_state"
	CategoryTamper       Category = "tamper_detected"
)

// ListBased reports whether the category carries a findings list whose
// identifiers can be allow-listed.
func (c Category) ListBased() bool {
	switch c {
	case CategoryDriver, CategoryProcess, CategoryRegistry, CategoryMacro,
		CategoryOverlay, CategoryDLL, CategoryVPNAdapter, CategoryVPNProcess,
		CategoryUSBDevice, CategoryCheatWindow, CategoryCheatDevice, CategoryCheatProcess:
		return true
	}
	return false
}

// Enforceable reports whether high or critical findings in the category
// escalate into an automatic restriction.
func (c Category) Enforceable() bool {
	switch c {
	case CategoryCheatDevice, CategoryCheatProcess, CategoryCheatWindow, CategoryTamper:
		return true
	}
	return false
}

// Finding is one identified item inside a list-based category. Name is
// the allow-list lookup key; Secondary refines it (e.g. a USB PID when
// Name carries the VID).
type Finding struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Secondary string `json:"secondary,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// GameStatus reports whether the target game process is running while
// the account is in an active match.
type GameStatus struct {
	InMatch     bool   `json:"inMatch"`
	GameRunning bool   `json:"gameRunning"`
	Process     string `json:"process,omitempty"`
}

// FocusSample is one periodic check of whether the game window had
// input focus.
type FocusSample struct {
	Active bool      `json:"active"`
	At     time.Time `json:"at"`
}

// TamperInfo describes an agent integrity violation.
type TamperInfo struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Event is a single telemetry observation. Exactly one payload field is
// meaningful, selected by Category; Process switches on the category and
// handles every variant.
type Event struct {
	Category   Category
	RiskScore  int
	RiskLevel  RiskLevel
	Found      bool
	Findings   []Finding
	Game       *GameStatus
	Flags      *SecurityFlags
	Tamper     *TamperInfo
	ObservedAt time.Time
}
