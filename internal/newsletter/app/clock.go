package app

import "time"

// Clock abstracts wall-clock reads so due-ness logic is testable with
// injected times instead of real time passing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewRealClock returns the production Clock.
func NewRealClock() Clock { return realClock{} }
