//go:build !profile

package prof

import "io"

// Profiling errors (never returned by the stubs).
var (
	ErrCPUProfileActive error
	ErrInvalidProfile   error
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

// StartCPU is a no-op without the "profile" build tag.
func StartCPU(_ string) error { return nil }

// StopCPU is a no-op without the "profile" build tag.
func StopCPU() {}

// Write is a no-op without the "profile" build tag.
func Write(_ Profile, _ string) error { return nil }

// WriteTo is a no-op without the "profile" build tag.
func WriteTo(_ Profile, _ io.Writer) error { return nil }
