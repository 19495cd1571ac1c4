package uradvd

import "time"

// Timing constants from spec.md §4.6, mirroring uradvd.c's #defines
// (original_source/uradvd.c lines 44–56).
const (
	MaxRADelayTimeMillis     = 500
	MinDelayBetweenRASMillis = 3000
)

// Scheduler tracks the two deadlines of spec.md §3/§4.6 through which the
// periodic jitter, solicited-response delay and minimum inter-RA gap
// interact: the next scheduled advertisement time, and the floor before
// which no RA may be sent. It exposes two entry points instead of a single boolean
// "nodelay" flag, per spec.md §9's design note.
type Scheduler struct {
	clock Clock

	minRtrAdvIntervalSeconds int
	maxRtrAdvIntervalSeconds int

	nextAdvert         time.Time
	nextAdvertEarliest time.Time
}

func NewScheduler(clock Clock, minSeconds, maxSeconds int) *Scheduler {
	now := clock.Now()
	return &Scheduler{
		clock:                    clock,
		minRtrAdvIntervalSeconds: minSeconds,
		maxRtrAdvIntervalSeconds: maxSeconds,
		nextAdvert:               now,
		nextAdvertEarliest:       now,
	}
}

// NextAdvert is the absolute time at which the next RA should be sent.
func (s *Scheduler) NextAdvert() time.Time {
	return s.nextAdvert
}

// ScheduleUnsolicited requests an advertisement as soon as possible,
// jittered by up to MaxRADelayTimeMillis, without ever pushing an already
// earlier deadline later. Grounded on uradvd.c's schedule_advert(true)
// (lines 214–227).
func (s *Scheduler) ScheduleUnsolicited() {
	now := s.clock.Now()
	target := s.clock.Add(now, s.clock.RandRange(0, MaxRADelayTimeMillis))
	target = s.clampToEarliest(target)

	if s.clock.After(s.nextAdvert, target) {
		s.nextAdvert = target
	}
}

// SchedulePeriodic picks the next unsolicited advertisement time uniformly
// within [MinRtrAdvInterval, MaxRtrAdvInterval), unconditionally replacing
// the previous deadline. Grounded on uradvd.c's schedule_advert(false)
// (lines 214–227), called after every successful send.
func (s *Scheduler) SchedulePeriodic() {
	now := s.clock.Now()
	minMs := s.minRtrAdvIntervalSeconds * 1000
	maxMs := s.maxRtrAdvIntervalSeconds * 1000
	target := s.clock.Add(now, s.clock.RandRange(minMs, maxMs))
	s.nextAdvert = s.clampToEarliest(target)
}

func (s *Scheduler) clampToEarliest(target time.Time) time.Time {
	if s.clock.After(s.nextAdvertEarliest, target) {
		return s.nextAdvertEarliest
	}
	return target
}

// RecordSend must be called immediately after a successful RA send. It
// pushes the earliest-next-send floor MinDelayBetweenRASMillis into the
// future and reschedules the next periodic advertisement, matching
// uradvd.c's send_advert's tail (lines 569–572).
func (s *Scheduler) RecordSend() {
	now := s.clock.Now()
	s.nextAdvertEarliest = s.clock.Add(now, MinDelayBetweenRASMillis)
	s.SchedulePeriodic()
}
