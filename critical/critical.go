// Package critical provides the scoped guard used wherever main-loop code and
// the USB interrupt path share state.
//
// On a microcontroller this is "mask interrupts, do a short
// read-modify-write, restore". Here the interrupt context is whatever
// goroutine drives the USB engine, so the guard is a mutex. Like an
// interrupt mask it is not reentrant: code already holding the section must
// use the *Locked variants of an API instead of entering again.
package critical

import "sync"

// Section serializes access to state shared with the USB interrupt path.
// The zero value is ready to use.
type Section struct {
	mu sync.Mutex
}

// Guard is returned by Enter and releases the section on Exit.
type Guard struct {
	s *Section
}

// Enter masks the "interrupt" and returns a guard. Typical use:
//
//	defer cs.Enter().Exit()
func (s *Section) Enter() Guard {
	s.mu.Lock()
	return Guard{s: s}
}

// Exit releases the section.
func (g Guard) Exit() {
	g.s.mu.Unlock()
}

// Lock implements sync.Locker.
func (s *Section) Lock() { s.mu.Lock() }

// Unlock implements sync.Locker.
func (s *Section) Unlock() { s.mu.Unlock() }

// Do runs fn with the section held.
func (s *Section) Do(fn func()) {
	defer s.Enter().Exit()
	fn()
}
