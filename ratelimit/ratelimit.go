package ratelimit

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/r4-ndm/vaughan-gateway/types"
)

var log = logging.Logger("ratelimit")

// Tier is one refill window of a limit: at most Max calls per Window.
type Tier struct {
	Max    int
	Window time.Duration
}

// Limit is a set of tiers that must all pass. A burst of reads can clear
// the per-second tier and still trip the per-minute one.
type Limit struct {
	Tiers []Tier
}

// Presets matching how costly each method class is to abuse.
var (
	// SensitiveLimit guards signing and transaction submission.
	SensitiveLimit = Limit{Tiers: []Tier{
		{Max: 2, Window: time.Second},
		{Max: 10, Window: time.Minute},
		{Max: 50, Window: time.Hour},
	}}
	// ConnectionLimit guards connect and permission prompts.
	ConnectionLimit = Limit{Tiers: []Tier{
		{Max: 1, Window: time.Second},
		{Max: 5, Window: time.Minute},
		{Max: 20, Window: time.Hour},
	}}
	// ReadOnlyLimit guards everything that never prompts.
	ReadOnlyLimit = Limit{Tiers: []Tier{
		{Max: 20, Window: time.Second},
		{Max: 300, Window: time.Minute},
		{Max: 5000, Window: time.Hour},
	}}
)

type bucket struct {
	// stamps holds the call times still inside the largest window,
	// oldest first.
	stamps []time.Time
}

// Limiter enforces per-origin, per-method-class call limits.
type Limiter struct {
	lk      sync.Mutex
	buckets map[string]*bucket
	clock   clock.Clock
}

func NewLimiter(clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		clock:   clk,
	}
}

// Check records one call for origin under the given limit and class key,
// returning a rate-limit error when any tier is exhausted. A rejected
// call is not recorded, so a throttled client does not dig itself deeper.
func (l *Limiter) Check(origin, class string, limit Limit) error {
	if len(limit.Tiers) == 0 {
		return nil
	}

	l.lk.Lock()
	defer l.lk.Unlock()

	key := origin + "|" + class
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}

	now := l.clock.Now()
	largest := limit.Tiers[0].Window
	for _, t := range limit.Tiers[1:] {
		if t.Window > largest {
			largest = t.Window
		}
	}

	// Drop stamps older than the largest window.
	cutoff := now.Add(-largest)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	b.stamps = b.stamps[i:]

	for _, t := range limit.Tiers {
		since := now.Add(-t.Window)
		n := 0
		for j := len(b.stamps) - 1; j >= 0; j-- {
			if b.stamps[j].After(since) {
				n++
			} else {
				break
			}
		}
		if n >= t.Max {
			log.Warnf("rate limit hit for %s (%s): %d calls in %s", origin, class, n, t.Window)
			return types.ErrRateLimited
		}
	}

	b.stamps = append(b.stamps, now)
	return nil
}

// Reset drops all recorded calls for an origin, used when its sessions
// are revoked.
func (l *Limiter) Reset(origin string) {
	l.lk.Lock()
	defer l.lk.Unlock()
	prefix := origin + "|"
	for key := range l.buckets {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(l.buckets, key)
		}
	}
}
