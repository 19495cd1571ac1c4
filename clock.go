package uradvd

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"
)

// Clock is the monotonic time source used by the scheduler and reactor. It
// is an interface so tests can inject a fake one, the same way the teacher
// injects fake sockets and device watchers rather than talking to the real
// kernel.
type Clock interface {
	// Now returns the current monotonic instant.
	Now() time.Time
	// Add returns a new instant ms milliseconds after t.
	Add(t time.Time, ms int) time.Time
	// After reports whether a strictly follows b.
	After(a, b time.Time) bool
	// DiffMillis returns (a - b) in milliseconds.
	DiffMillis(a, b time.Time) int
	// RandRange returns a uniform random integer in [min, max).
	RandRange(min, max int) int
}

// systemClock is the real Clock, backed by the monotonic runtime clock and
// a math/rand/v2 source seeded once from the OS entropy pool. This mirrors
// uradvd.c's update_time/timespec_after/timespec_diff/timespec_add plus its
// init_random/rand_range: read one seed from /dev/urandom, then use a fast
// non-cryptographic PRNG for every subsequent draw.
type systemClock struct {
	rng *rand.Rand
}

var _ Clock = (*systemClock)(nil)

// NewSystemClock seeds the random source from the OS entropy pool. Failure
// to seed is fatal, matching uradvd.c's exit_errno("can't read from
// /dev/urandom").
func NewSystemClock() (*systemClock, error) {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seed PRNG: %w", err)
	}
	s1 := binary.LittleEndian.Uint64(seed[0:8])
	s2 := binary.LittleEndian.Uint64(seed[8:16])
	return &systemClock{rng: rand.New(rand.NewPCG(s1, s2))}, nil
}

func (c *systemClock) Now() time.Time {
	return time.Now()
}

func (c *systemClock) Add(t time.Time, ms int) time.Time {
	return t.Add(time.Duration(ms) * time.Millisecond)
}

func (c *systemClock) After(a, b time.Time) bool {
	return a.After(b)
}

func (c *systemClock) DiffMillis(a, b time.Time) int {
	return int(a.Sub(b).Milliseconds())
}

func (c *systemClock) RandRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + c.rng.IntN(max-min)
}
