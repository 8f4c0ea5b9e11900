// Package health runs the agent's preflight checks before it starts
// signing requests. A skewed clock is the common cause of rejected
// signatures, so drift against the server is measured up front.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Status struct {
	ServerReachable bool      `json:"server_reachable"`
	TimeDriftS      int       `json:"time_drift_seconds"`
	CheckedAt       time.Time `json:"checked_at"`
	Healthy         bool      `json:"healthy"`
	Issues          []string  `json:"issues,omitempty"`
}

// Check probes the server's health endpoint and compares the server's
// reported time against the local clock.
func Check(serverURL string, maxTimeDriftS int) *Status {
	status := &Status{
		Healthy:   true,
		Issues:    []string{},
		CheckedAt: time.Now(),
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(serverURL + "/v1/health")
	if err != nil {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("cannot reach server: %v", err))
		return status
	}
	resp.Body.Close()
	status.ServerReachable = resp.StatusCode == http.StatusOK
	if !status.ServerReachable {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("server unhealthy: %d", resp.StatusCode))
		return status
	}

	drift, err := measureDrift(client, serverURL)
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("drift check failed: %v", err))
		return status
	}
	status.TimeDriftS = drift
	if maxTimeDriftS > 0 && drift > maxTimeDriftS {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("time drift %ds exceeds max %ds", drift, maxTimeDriftS))
	}
	return status
}

func measureDrift(client *http.Client, serverURL string) (int, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+"/iris/ping", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Iris-Client", "desktop")

	before := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ping returned %d", resp.StatusCode)
	}

	var body struct {
		Time int64 `json:"time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}

	// Approximate one-way latency as half the round trip.
	rtt := time.Since(before)
	local := before.Add(rtt / 2).UnixMilli()
	driftMs := local - body.Time
	if driftMs < 0 {
		driftMs = -driftMs
	}
	return int(driftMs / 1000), nil
}
