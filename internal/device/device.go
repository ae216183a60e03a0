// Package device picks the execution backend for the model once at startup.
package device

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Execution backends, in order of preference.
const (
	CUDA = "cuda"
	MPS  = "mps"
	CPU  = "cpu"
)

// Auto asks Select to probe the host.
const Auto = "auto"

const nvidiaDriverVersionFile = "/proc/driver/nvidia/version"

// Probe reports whether a backend is usable on this host.
type Probe func() bool

// Prober holds the probes for the accelerated backends.
type Prober struct {
	CUDA Probe
	MPS  Probe
}

// HostProber returns probes that inspect the running host.
func HostProber() Prober {
	return Prober{
		CUDA: cudaAvailable,
		MPS:  mpsAvailable,
	}
}

// Detect returns cuda if available, else mps, else cpu.
func (p Prober) Detect() string {
	if p.CUDA != nil && p.CUDA() {
		return CUDA
	}

	if p.MPS != nil && p.MPS() {
		return MPS
	}

	return CPU
}

// Select honours an explicit device and probes the host otherwise.
func (p Prober) Select(configured string) string {
	configured = strings.ToLower(strings.TrimSpace(configured))
	if configured == "" || configured == Auto {
		return p.Detect()
	}

	return configured
}

func cudaAvailable() bool {
	_, err := os.Stat(nvidiaDriverVersionFile)
	if err == nil {
		return true
	}

	_, err = exec.LookPath("nvidia-smi")

	return err == nil
}

func mpsAvailable() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}
