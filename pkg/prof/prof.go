//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	ErrCPUProfileActive = errors.New("cpu profile already active")
	ErrInvalidProfile   = errors.New("invalid profile")
)

// Profile names a pprof profile type.
type Profile string

const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

func (p Profile) String() string {
	return string(p)
}

var (
	cpuMutex  sync.Mutex
	cpuFile   *os.File
	cpuActive bool
)

// StartCPU starts CPU profiling, streaming samples to the file at path.
// Returns ErrCPUProfileActive if profiling is already running.
func StartCPU(path string) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuActive {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	cpuFile = f
	cpuActive = true
	return nil
}

// StopCPU stops CPU profiling and closes the output file. Safe to call
// when profiling is not active.
func StopCPU() {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if !cpuActive {
		return
	}
	pprof.StopCPUProfile()
	if cpuFile != nil {
		cpuFile.Close()
		cpuFile = nil
	}
	cpuActive = false
}

// Write captures a snapshot profile to the file at path. ProfileCPU is
// rejected; use StartCPU and StopCPU instead.
func Write(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteTo(profile, f)
}

// WriteTo captures a snapshot profile to w.
func WriteTo(profile Profile, w io.Writer) error {
	if profile == ProfileCPU {
		return fmt.Errorf("%w: %s requires StartCPU", ErrInvalidProfile, profile)
	}
	p := pprof.Lookup(profile.String())
	if p == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, profile)
	}
	return p.WriteTo(w, 0)
}
