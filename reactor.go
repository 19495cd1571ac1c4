package uradvd

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// reactorPoller multiplexes the two sockets the reactor owns. It is an
// interface purely for testability (a fake poller lets reactor tests drive
// specific readiness sequences without real file descriptors); the real
// implementation wraps unix.Poll exactly as uradvd.c's main loop does
// (original_source/uradvd.c lines 700–728).
type reactorPoller interface {
	poll(icmpFD, netlinkFD, timeoutMillis int) (icmpReady, netlinkReady bool, err error)
}

type unixPoller struct{}

// NewPoller returns the real, syscall-backed reactorPoller. Exported so
// cmd/uradvd can hand it to NewReactor.
func NewPoller() unixPoller {
	return unixPoller{}
}

func (unixPoller) poll(icmpFD, netlinkFD, timeoutMillis int) (bool, bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(icmpFD), Events: unix.POLLIN},
		{Fd: int32(netlinkFD), Events: unix.POLLIN},
	}

	for {
		_, err := unix.Poll(fds, timeoutMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, false, fmt.Errorf("poll: %w", err)
		}
		return fds[0].Revents&unix.POLLIN != 0, fds[1].Revents&unix.POLLIN != 0, nil
	}
}

// noPollTimeout signals an infinite poll(2) wait.
const noPollTimeout = -1

// shutdownCheckIntervalMillis bounds how long the reactor can stay blocked
// in poll(2) while the interface is not ready, so that a cancelled context
// is noticed promptly (SPEC_FULL.md's graceful-shutdown addition). It has
// no effect on RA timing: with the interface not ready, no RA is ever due,
// so waking up early to recheck the sockets is harmless.
const shutdownCheckIntervalMillis = 1000

// Reactor is the single-threaded event loop of spec.md §4.7: it multiplexes
// the ICMPv6 socket, the kernel-event socket, and the scheduler deadline,
// grounded directly on uradvd.c's main() (lines 685–729).
type Reactor struct {
	cfg     *Config
	clock   Clock
	icmp    icmpEndpoint
	kev     kernelEventChannel
	poller  reactorPoller
	diag    *Diagnostics
	status  *statusTracker
	metrics *Metrics

	tracker   *InterfaceTracker
	scheduler *Scheduler

	// pendingSolicited tracks whether the next send is in response to a
	// Router Solicitation, purely for the status/metrics counters
	// (SPEC_FULL.md's status-reporting addition) — spec.md's wire format
	// and timing rules make no such distinction at send time, matching
	// uradvd.c's single unconditional send_advert().
	pendingSolicited bool
}

// NewReactor wires the components together; see cmd/uradvd/main.go for how
// the real sockets/poller are constructed. metrics may be nil, in which case
// no Prometheus counters are updated.
func NewReactor(cfg *Config, clock Clock, icmp icmpEndpoint, kev kernelEventChannel, poller reactorPoller, diag *Diagnostics, metrics *Metrics) *Reactor {
	return &Reactor{
		cfg:       cfg,
		clock:     clock,
		icmp:      icmp,
		kev:       kev,
		poller:    poller,
		diag:      diag,
		status:    newStatusTracker(cfg.Interface),
		metrics:   metrics,
		tracker:   NewInterfaceTracker(cfg.Interface, icmp, diag),
		scheduler: NewScheduler(clock, cfg.MinRtrAdvInterval, cfg.MaxRtrAdvInterval),
	}
}

// Run executes the reactor loop until ctx is cancelled or a fatal error
// occurs, matching the three error classes of spec.md §7: an interruption
// during poll is retried transparently (inside reactorPoller), any other
// poll failure is fatal, and every other failure path either warns and
// clears readiness or silently drops the offending packet/event.
func (r *Reactor) Run(ctx context.Context) error {
	// Initial refresh, matching uradvd.c's update_interface() call right
	// before entering the loop (line 698).
	if immediate := r.tracker.Refresh(); immediate {
		r.scheduler.ScheduleUnsolicited()
	}
	r.updateReadinessMetric()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		timeout := r.pollTimeoutMillis()

		icmpReady, netlinkReady, err := r.poller.poll(r.icmp.fd(), r.kev.fd(), timeout)
		if err != nil {
			r.status.setState(StateStopped, err.Error())
			return err
		}

		if icmpReady {
			r.handleRS()
		}
		if netlinkReady {
			if err := r.handleKernelEvent(); err != nil {
				r.status.setState(StateStopped, err.Error())
				return err
			}
		}

		if r.tracker.State().OK && r.clock.After(r.clock.Now(), r.scheduler.NextAdvert()) {
			r.sendAdvert()
		}
	}
}

func (r *Reactor) pollTimeoutMillis() int {
	if !r.tracker.State().OK {
		return shutdownCheckIntervalMillis
	}
	timeout := r.clock.DiffMillis(r.scheduler.NextAdvert(), r.clock.Now())
	if timeout < 0 {
		timeout = 0
	}
	if timeout > shutdownCheckIntervalMillis {
		timeout = shutdownCheckIntervalMillis
	}
	return timeout
}

func (r *Reactor) handleRS() {
	payload, hopLimit, src, err := r.icmp.recvRS()
	if err != nil {
		r.diag.Debugf("recvRS: %s", err)
		return
	}

	srcUnspecified := !src.IsValid() || src.IsUnspecified()

	_, err = DecodeRS(payload, hopLimit, srcUnspecified)
	if err != nil {
		r.diag.Debugf("dropping malformed RS: %s", err)
		r.status.recordRS(true)
		if r.metrics != nil {
			r.metrics.RSDropped.Inc()
		}
		return
	}

	r.diag.Debugf("accepted router solicitation from %s", src)
	r.status.recordRS(false)
	if r.metrics != nil {
		r.metrics.RSReceived.Inc()
	}

	r.pendingSolicited = true
	r.scheduler.ScheduleUnsolicited()
}

func (r *Reactor) handleKernelEvent() error {
	state := r.tracker.State()

	relevant, err := r.kev.readBuffer(state.Ifindex, state.OK)
	if err != nil {
		if errors.Is(err, errNetlinkError) {
			return fmt.Errorf("fatal netlink error: %w", err)
		}
		r.diag.Warnf("kernel event channel: %s", err)
		return nil
	}

	if !relevant {
		return nil
	}

	wasOK := state.OK
	if immediate := r.tracker.Refresh(); immediate {
		r.scheduler.ScheduleUnsolicited()
	}

	if nowOK := r.tracker.State().OK; nowOK != wasOK {
		if nowOK {
			r.diag.Infof("interface %s is ready", r.cfg.Interface)
		} else {
			r.diag.Warnf("interface %s is not ready", r.cfg.Interface)
		}
	}

	r.updateReadinessMetric()

	return nil
}

func (r *Reactor) sendAdvert() {
	state := r.tracker.State()
	if !state.OK {
		return
	}

	solicited := r.pendingSolicited
	r.pendingSolicited = false

	payload := EncodeRA(r.cfg, state.MAC)

	if err := r.icmp.sendRA(payload, state.LinkLocal, state.Ifindex); err != nil {
		r.diag.Warnf("sendmsg failed: %s", err)
		r.tracker.clearOK()
		r.updateReadinessMetric()
		return
	}

	r.diag.Debugf("sent router advertisement (solicited=%t)", solicited)
	r.scheduler.RecordSend()
	r.status.recordSend(solicited, r.clock.Now())
	if r.metrics != nil {
		label := "unsolicited"
		if solicited {
			label = "solicited"
		}
		r.metrics.RAsSent.WithLabelValues(label).Inc()
	}
}

// Status returns a snapshot of the reactor's operational state, exposed for
// the HTTP status endpoint (SPEC_FULL.md's status-reporting addition).
func (r *Reactor) Status() Status {
	return r.status.snapshot()
}

func (r *Reactor) updateReadinessMetric() {
	if r.metrics == nil {
		return
	}
	if r.tracker.State().OK {
		r.metrics.InterfaceUp.Set(1)
	} else {
		r.metrics.InterfaceUp.Set(0)
	}
}
