package debug

import "sync"

// FaultProfile defines faults that can be injected for testing.
// All faults are one-shot (consumed after check) to ensure predictable,
// isolated test behavior and prevent accidental long-term system corruption.
type FaultProfile struct {
	mu sync.Mutex

	// FailNextBoot causes the next adapter initialization to fail (one-shot)
	FailNextBoot bool

	// CrashNextRequest makes the next request handler panic (one-shot)
	CrashNextRequest bool

	// StallNextDrain makes the next drain outlive the grace period (one-shot)
	StallNextDrain bool
}

// Faults is the global fault profile
var Faults = &FaultProfile{}

// SetFailNextBoot enables/disables boot failure injection
func (f *FaultProfile) SetFailNextBoot(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailNextBoot = enabled
}

// ShouldFailBoot checks and consumes the boot failure flag
func (f *FaultProfile) ShouldFailBoot() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNextBoot {
		f.FailNextBoot = false // One-shot
		return true
	}
	return false
}

// SetCrashNextRequest enables/disables request crash injection
func (f *FaultProfile) SetCrashNextRequest(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CrashNextRequest = enabled
}

// ShouldCrashRequest checks and consumes the request crash flag
func (f *FaultProfile) ShouldCrashRequest() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CrashNextRequest {
		f.CrashNextRequest = false // One-shot
		return true
	}
	return false
}

// SetStallNextDrain enables/disables drain stalling
func (f *FaultProfile) SetStallNextDrain(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StallNextDrain = enabled
}

// ShouldStallDrain checks and consumes the drain stall flag
func (f *FaultProfile) ShouldStallDrain() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StallNextDrain {
		f.StallNextDrain = false // One-shot
		return true
	}
	return false
}

// Reset clears all fault flags
func (f *FaultProfile) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailNextBoot = false
	f.CrashNextRequest = false
	f.StallNextDrain = false
}
