package main

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/ggsecure/iris-server/pkg/detection"
)

// collectSecurityFlags gathers the platform protection switches
// reported on each scan cycle. Probes are best effort; a failed probe
// reports the flag as disabled rather than aborting the cycle.
func collectSecurityFlags() detection.SecurityFlags {
	if runtime.GOOS == "windows" {
		return collectWindowsFlags()
	}
	return collectLinuxFlags()
}

func collectWindowsFlags() detection.SecurityFlags {
	flags := detection.SecurityFlags{}

	if out, err := exec.Command("powershell", "-Command", "Confirm-SecureBootUEFI").Output(); err == nil {
		flags.SecureBoot = strings.Contains(string(out), "True")
	}
	if out, err := exec.Command("powershell", "-Command",
		"(Get-Tpm).TpmPresent -and (Get-Tpm).TpmReady").Output(); err == nil {
		flags.TPM = strings.Contains(string(out), "True")
	}
	if out, err := exec.Command("powershell", "-Command",
		"(Get-CimInstance Win32_DeviceGuard -Namespace root\\Microsoft\\Windows\\DeviceGuard).SecurityServicesRunning").Output(); err == nil {
		services := string(out)
		flags.VBS = strings.Contains(services, "1")
		flags.HVCI = strings.Contains(services, "2")
	}
	if out, err := exec.Command("powershell", "-Command",
		"(Get-MpComputerStatus).RealTimeProtectionEnabled").Output(); err == nil {
		flags.RealtimeProtection = strings.Contains(string(out), "True")
	}
	if out, err := exec.Command("powershell", "-Command",
		"(Get-CimInstance Win32_ComputerSystem).HypervisorPresent").Output(); err == nil {
		flags.Virtualization = strings.Contains(string(out), "True")
	}
	return flags
}

func collectLinuxFlags() detection.SecurityFlags {
	flags := detection.SecurityFlags{}

	if out, err := exec.Command("mokutil", "--sb-state").Output(); err == nil {
		flags.SecureBoot = strings.Contains(string(out), "enabled")
	}
	if err := exec.Command("test", "-e", "/dev/tpm0").Run(); err == nil {
		flags.TPM = true
	}
	if out, err := exec.Command("sh", "-c", "grep -cE 'vmx|svm' /proc/cpuinfo").Output(); err == nil {
		flags.Virtualization = strings.TrimSpace(string(out)) != "0"
	}
	if err := exec.Command("sh", "-c", "test -d /sys/kernel/iommu_groups && ls /sys/kernel/iommu_groups | grep -q .").Run(); err == nil {
		flags.IOMMU = true
	}
	return flags
}

// sampleFocus reports whether the game window currently has input
// focus. Only implemented where a display server is available.
func sampleFocus(gameProcess string) (bool, bool) {
	if runtime.GOOS != "linux" || gameProcess == "" {
		return false, false
	}
	out, err := exec.Command("xdotool", "getactivewindow", "getwindowname").Output()
	if err != nil {
		return false, false
	}
	active := strings.Contains(strings.ToLower(string(out)), strings.ToLower(gameProcess))
	return active, true
}
