// Package prof provides on-demand profiling for the USB stack.
//
// It wraps [runtime/pprof] behind the "profile" build tag:
//
//	go build -tags profile
//
// Without the tag every exported function is a no-op, so profiling calls
// can stay in place at zero cost.
//
// CPU profiling requires explicit start and stop:
//
//	prof.StartCPU("cpu.prof")
//	defer prof.StopCPU()
//
// Snapshot profiles capture a point in time:
//
//	prof.Write(prof.ProfileHeap, "heap.prof")
package prof
