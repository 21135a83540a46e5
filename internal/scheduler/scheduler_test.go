package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/internal/randutil"
	"github.com/geekeatingbugz/whatsapp-bot/session"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMessage struct {
	chat string
	err  error
	pan  any

	mu      sync.Mutex
	replies []string
}

func (m *fakeMessage) ID() string     { return "msg-1" }
func (m *fakeMessage) Body() string   { return "hi" }
func (m *fakeMessage) FromMe() bool   { return false }
func (m *fakeMessage) Author() string { return "" }
func (m *fakeMessage) From() string   { return m.chat }
func (m *fakeMessage) Chat(context.Context) (session.Chat, error) {
	return session.Chat{ID: m.chat}, nil
}

func (m *fakeMessage) Reply(_ context.Context, content string) error {
	if m.pan != nil {
		panic(m.pan)
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, content)
	return nil
}

type fixedSource struct{ f float64 }

func (s fixedSource) Float64() float64 { return s.f }
func (s fixedSource) IntN(int) int     { return 0 }

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func TestScheduleDelayWithinWindow(t *testing.T) {
	sleeper := &recordingSleeper{}
	s := New(Options{
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
		Random:   randutil.New(42),
		Sleep:    sleeper.Sleep,
	})
	msg := &fakeMessage{chat: "g1"}
	for i := 0; i < 200; i++ {
		out := s.Schedule(context.Background(), msg, "hey")
		if !out.Delivered || out.Err != nil {
			t.Fatalf("Schedule() = %#v, want delivered", out)
		}
		if out.Delay < 2*time.Second || out.Delay >= 7*time.Second {
			t.Fatalf("delay = %v, want in [2s, 7s)", out.Delay)
		}
		if out.ID == "" {
			t.Fatalf("outcome id is empty")
		}
	}
	if len(sleeper.delays) != 200 || len(msg.replies) != 200 {
		t.Fatalf("sleeps = %d replies = %d, want 200 each", len(sleeper.delays), len(msg.replies))
	}
}

func TestScheduleWindowBounds(t *testing.T) {
	cases := []struct {
		name string
		f    float64
		want time.Duration
	}{
		{name: "low", f: 0, want: 2 * time.Second},
		{name: "mid", f: 0.5, want: 4500 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			s := New(Options{MinDelay: DefaultMinDelay, MaxDelay: DefaultMaxDelay, Random: fixedSource{f: tc.f}, Sleep: sleeper.Sleep})
			out := s.Schedule(context.Background(), &fakeMessage{chat: "c"}, "x")
			if out.Delay != tc.want || sleeper.delays[0] != tc.want {
				t.Fatalf("delay = %v slept = %v, want %v", out.Delay, sleeper.delays[0], tc.want)
			}
		})
	}
}

func TestScheduleRealSleep(t *testing.T) {
	s := New(Options{MinDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond, Random: randutil.New(7)})
	msg := &fakeMessage{chat: "c"}
	start := time.Now()
	out := s.Schedule(context.Background(), msg, "later")
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("Schedule() returned after %v, want at least the minimum delay", elapsed)
	}
	if !out.Delivered || len(msg.replies) != 1 || msg.replies[0] != "later" {
		t.Fatalf("Schedule() = %#v replies = %v", out, msg.replies)
	}
}

func TestScheduleSendErrorsDoNotPropagate(t *testing.T) {
	sendErr := errors.New("socket closed")
	cases := []struct {
		name string
		msg  *fakeMessage
	}{
		{name: "error", msg: &fakeMessage{chat: "c", err: sendErr}},
		{name: "panic", msg: &fakeMessage{chat: "c", pan: "boom"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(Options{Sleep: (&recordingSleeper{}).Sleep})
			out := s.Schedule(context.Background(), tc.msg, "x")
			if out.Delivered || out.Err == nil {
				t.Fatalf("Schedule() = %#v, want failed outcome", out)
			}
		})
	}
}

func TestScheduleNilTarget(t *testing.T) {
	s := New(Options{Sleep: (&recordingSleeper{}).Sleep})
	if out := s.Schedule(context.Background(), nil, "x"); out.Delivered || out.Err == nil {
		t.Fatalf("Schedule(nil) = %#v, want failed outcome", out)
	}
}

func TestScheduleCancelledContextDropsReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg := &fakeMessage{chat: "c"}
	s := New(Options{MinDelay: time.Second, MaxDelay: 2 * time.Second})
	out := s.Schedule(ctx, msg, "x")
	if out.Delivered || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("Schedule() = %#v, want dropped with context.Canceled", out)
	}
	if len(msg.replies) != 0 {
		t.Fatalf("replies = %v, want none", msg.replies)
	}
}

func TestRateLimiterStretchesInsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(Options{
		MinDelay:      DefaultMinDelay,
		MaxDelay:      DefaultMaxDelay,
		RatePerMinute: 12,
		Burst:         1,
		Random:        fixedSource{f: 0},
		Sleep:         (&recordingSleeper{}).Sleep,
		Now:           func() time.Time { return now },
	})
	msg := &fakeMessage{chat: "busy"}

	first := s.Schedule(context.Background(), msg, "1")
	if first.Delay != 2*time.Second {
		t.Fatalf("first delay = %v, want 2s", first.Delay)
	}
	// One token every 5s, which still fits inside the window.
	second := s.Schedule(context.Background(), msg, "2")
	if !second.Delivered || second.Delay < 4900*time.Millisecond || second.Delay > 5100*time.Millisecond {
		t.Fatalf("second = %#v, want delivered after about 5s", second)
	}

	other := s.Schedule(context.Background(), &fakeMessage{chat: "quiet"}, "3")
	if other.Delay != 2*time.Second {
		t.Fatalf("other conversation delay = %v, want 2s", other.Delay)
	}
}

func TestRateLimiterDropsRepliesPastWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(Options{
		MinDelay:      DefaultMinDelay,
		MaxDelay:      DefaultMaxDelay,
		RatePerMinute: 6,
		Burst:         1,
		Random:        fixedSource{f: 0},
		Sleep:         (&recordingSleeper{}).Sleep,
		Now:           func() time.Time { return now },
	})
	msg := &fakeMessage{chat: "busy"}

	if out := s.Schedule(context.Background(), msg, "1"); !out.Delivered {
		t.Fatalf("first = %#v, want delivered", out)
	}
	// The next token is 10s away, past the 7s window.
	for i := 0; i < 3; i++ {
		out := s.Schedule(context.Background(), msg, "flood")
		if out.Delivered || !errors.Is(out.Err, ErrRateLimited) {
			t.Fatalf("Schedule() #%d = %#v, want ErrRateLimited", i, out)
		}
	}
	if len(msg.replies) != 1 {
		t.Fatalf("replies = %v, want only the first", msg.replies)
	}

	// Dropped replies hand their reservation back, so the bucket refills on time.
	now = now.Add(10 * time.Second)
	if out := s.Schedule(context.Background(), msg, "later"); !out.Delivered || out.Delay != 2*time.Second {
		t.Fatalf("Schedule() after refill = %#v, want delivered after 2s", out)
	}
}
