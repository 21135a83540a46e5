package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/internal/clock"
	"github.com/geekeatingbugz/whatsapp-bot/internal/metrics"
	"github.com/geekeatingbugz/whatsapp-bot/internal/randutil"
	"github.com/geekeatingbugz/whatsapp-bot/session"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultMinDelay      = 2 * time.Second
	DefaultMaxDelay      = 7 * time.Second
	DefaultRatePerMinute = 20
	DefaultBurst         = 5
)

const (
	OutcomeDelivered   = "delivered"
	OutcomeFailed      = "failed"
	OutcomeDropped     = "dropped"
	OutcomeRateLimited = "rate_limited"
)

// ErrRateLimited is reported when the conversation's token bucket cannot
// grant a reply inside the delay window.
var ErrRateLimited = errors.New("reply rate limit exceeded")

type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// RatePerMinute caps replies per conversation. Zero or less disables
	// rate limiting.
	RatePerMinute float64
	Burst         int

	Random  randutil.Source
	Sleep   clock.SleepFunc
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Outcome reports what happened to one scheduled reply.
type Outcome struct {
	ID        string
	Delay     time.Duration
	Delivered bool
	Err       error
}

type Scheduler struct {
	minDelay time.Duration
	maxDelay time.Duration
	limit    rate.Limit
	burst    int

	random  randutil.Source
	sleep   clock.SleepFunc
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		minDelay: opts.MinDelay,
		maxDelay: opts.MaxDelay,
		burst:    opts.Burst,
		random:   opts.Random,
		sleep:    clock.OrDefault(opts.Sleep),
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		limiters: make(map[string]*rate.Limiter),
	}
	if s.minDelay < 0 {
		s.minDelay = 0
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay
	}
	if opts.RatePerMinute > 0 {
		s.limit = rate.Limit(opts.RatePerMinute / 60)
		if s.burst <= 0 {
			s.burst = 1
		}
	}
	if s.random == nil {
		s.random = randutil.New(0)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Schedule waits a humanlike delay and then replies to target. Delivery
// errors are logged and reported in the Outcome, never returned.
func (s *Scheduler) Schedule(ctx context.Context, target session.Message, content string) Outcome {
	out := Outcome{ID: uuid.NewString()}
	if target == nil {
		out.Err = fmt.Errorf("reply target is nil")
		s.finish(out, "", OutcomeFailed)
		return out
	}
	conversationID := target.From()

	jitter := randutil.DurationBetween(s.random, s.minDelay, s.maxDelay)
	now := s.now()
	res := s.reserve(conversationID, now)
	delay, ok := s.stretch(jitter, res, now)
	if !ok {
		res.CancelAt(now)
		out.Err = ErrRateLimited
		s.finish(out, conversationID, OutcomeRateLimited)
		return out
	}
	out.Delay = delay

	s.logger.Info("reply_scheduled",
		"reply_id", out.ID,
		"conversation_id", conversationID,
		"message_id", target.ID(),
		"delay_seconds", out.Delay.Seconds(),
	)

	if err := s.sleep(ctx, out.Delay); err != nil {
		if res != nil {
			res.CancelAt(s.now())
		}
		out.Err = err
		s.finish(out, conversationID, OutcomeDropped)
		return out
	}

	if err := s.send(ctx, target, content); err != nil {
		out.Err = err
		s.finish(out, conversationID, OutcomeFailed)
		return out
	}
	out.Delivered = true
	s.finish(out, conversationID, OutcomeDelivered)
	return out
}

// stretch lets the rate limiter push the delay later. It reports false when
// the token would only be available at or past the upper bound of the window.
func (s *Scheduler) stretch(jitter time.Duration, res *rate.Reservation, now time.Time) (time.Duration, bool) {
	if res == nil {
		return jitter, true
	}
	if !res.OK() {
		return 0, false
	}
	wait := res.DelayFrom(now)
	if wait <= jitter {
		return jitter, true
	}
	if wait >= s.maxDelay {
		return 0, false
	}
	return wait, true
}

func (s *Scheduler) reserve(conversationID string, now time.Time) *rate.Reservation {
	if s.limit <= 0 {
		return nil
	}
	s.mu.Lock()
	lim, ok := s.limiters[conversationID]
	if !ok {
		lim = rate.NewLimiter(s.limit, s.burst)
		s.limiters[conversationID] = lim
	}
	s.mu.Unlock()
	return lim.ReserveN(now, 1)
}

func (s *Scheduler) send(ctx context.Context, target session.Message, content string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reply panicked: %v", r)
		}
	}()
	return target.Reply(ctx, content)
}

func (s *Scheduler) finish(out Outcome, conversationID, outcome string) {
	s.metrics.ObserveReply(outcome, out.Delay.Seconds())
	switch outcome {
	case OutcomeDelivered:
		s.logger.Info("reply_sent", "reply_id", out.ID, "conversation_id", conversationID)
	case OutcomeDropped, OutcomeRateLimited:
		s.logger.Warn("reply_"+outcome, "reply_id", out.ID, "conversation_id", conversationID, "error", out.Err.Error())
	default:
		s.logger.Error("reply_failed", "reply_id", out.ID, "conversation_id", conversationID, "error", out.Err.Error())
	}
}
