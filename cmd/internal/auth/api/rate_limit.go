package authapi

import (
	"net"
	"sort"
	"sync"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// failureLog remembers failed logins per throttle key ("ip:..." or "email:...").
type failureLog struct {
	mu        sync.Mutex
	retention time.Duration
	byKey     map[string][]time.Time // oldest first
}

func newFailureLog(retention time.Duration) *failureLog {
	return &failureLog{
		retention: retention,
		byKey:     make(map[string][]time.Time),
	}
}

func (l *failureLog) record(key string, now time.Time) {
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byKey[key] = append(l.trimLocked(key, now), now)
}

// since returns failures for key newer than cutoff, newest first.
func (l *failureLog) since(key string, now, cutoff time.Time) []time.Time {
	if key == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.trimLocked(key, now)
	out := make([]time.Time, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		if !kept[i].After(cutoff) {
			break
		}
		out = append(out, kept[i])
	}
	return out
}

func (l *failureLog) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, key)
}

func (l *failureLog) trimLocked(key string, now time.Time) []time.Time {
	ts := l.byKey[key]
	cut := now.Add(-l.retention)
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cut) })
	if i == len(ts) {
		delete(l.byKey, key)
		return nil
	}
	ts = ts[i:]
	l.byKey[key] = ts
	return ts
}

func (h *Handler) checkLoginIPThrottle(ip net.IP, now time.Time) (bool, time.Duration) {
	if ip == nil || h.cfg.LoginIPMax <= 0 {
		return false, 0
	}
	failures := h.failures.since(ipKey(ip), now, now.Add(-h.cfg.LoginIPWindow))
	return evaluateWindowThrottle(now, failures, h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
}

func (h *Handler) checkLoginEmailThrottle(email string, now time.Time) (bool, time.Duration) {
	if email == "" {
		return false, 0
	}
	failures := h.failures.since(emailKey(email), now, now.Add(-h.cfg.failureRetention()))
	return evaluateProgressiveLockout(now, failures, h.cfg.lockoutTiers())
}

// evaluateWindowThrottle blocks once limit failures fall inside window.
// failures must be newest first. retry is when the count drops below limit again.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 {
		return false, 0
	}
	cut := now.Add(-window)

	n := 0
	for _, f := range failures {
		if f.After(cut) {
			n++
		}
	}
	if n < limit {
		return false, 0
	}

	// The limit-th newest failure is the one that has to age out.
	retry := failures[limit-1].Add(window).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}

// evaluateProgressiveLockout locks out for the highest tier reached, counted from the newest failure.
// failures must be newest first.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	newest := failures[0]

	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if retry := newest.Add(tier.Duration).Sub(now); retry > 0 {
			return true, retry
		}
	}
	return false, 0
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return "ip:" + ip.String()
}

func emailKey(email string) string {
	if email == "" {
		return ""
	}
	return "email:" + email
}
