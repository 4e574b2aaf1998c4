// Package clockid provides the monotonic time source and id generator
// the rest of the engine depends on instead of calling time.Now/uuid.New
// directly, so tests can substitute a fake clock and deterministic ids.
package clockid

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// IDGen abstracts unique id generation.
type IDGen interface {
	NewID() string
}

// System is the production Clock/IDGen backed by time.Now and
// google/uuid's random (v4) generator.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// NewID returns a random UUID string.
func (System) NewID() string { return uuid.NewString() }

// Fixed is a deterministic Clock/IDGen for tests: Now always returns
// the configured instant, NewID returns a UUID derived from a call
// counter, so the Nth call on a fresh Fixed always yields the same ID.
type Fixed struct {
	At      time.Time
	counter int
}

// Now returns the fixed instant.
func (f *Fixed) Now() time.Time { return f.At }

// NewID returns the UUID for the next counter value.
func (f *Fixed) NewID() string {
	f.counter++
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(f.counter), byte(f.counter >> 8)}).String()
}
