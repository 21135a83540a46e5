package router

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/internal/commands"
	"github.com/geekeatingbugz/whatsapp-bot/internal/persona"
	"github.com/geekeatingbugz/whatsapp-bot/internal/randutil"
	"github.com/geekeatingbugz/whatsapp-bot/internal/scheduler"
	"github.com/geekeatingbugz/whatsapp-bot/memory"
	"github.com/geekeatingbugz/whatsapp-bot/session"
)

type fakeMessage struct {
	id      string
	body    string
	fromMe  bool
	author  string
	from    string
	group   bool
	chatErr error
}

func (m *fakeMessage) ID() string     { return m.id }
func (m *fakeMessage) Body() string   { return m.body }
func (m *fakeMessage) FromMe() bool   { return m.fromMe }
func (m *fakeMessage) Author() string { return m.author }
func (m *fakeMessage) From() string   { return m.from }
func (m *fakeMessage) Chat(context.Context) (session.Chat, error) {
	if m.chatErr != nil {
		return session.Chat{}, m.chatErr
	}
	return session.Chat{ID: m.from, IsGroup: m.group}, nil
}
func (m *fakeMessage) Reply(context.Context, string) error { return nil }

type fakeScheduler struct {
	mu    sync.Mutex
	sent  []string
	panic bool
}

func (s *fakeScheduler) Schedule(_ context.Context, _ session.Message, content string) scheduler.Outcome {
	if s.panic {
		panic("scheduler exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, content)
	return scheduler.Outcome{Delivered: true}
}

type fakeCommands struct {
	mu   sync.Mutex
	cmds []commands.Command
}

func (c *fakeCommands) Handle(_ context.Context, cmd commands.Command, _ session.Message) scheduler.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return scheduler.Outcome{Delivered: true}
}

type fakeGenerator struct {
	mu       sync.Mutex
	contexts []string
}

func (g *fakeGenerator) Generate(_ context.Context, promptContext, _ string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contexts = append(g.contexts, promptContext)
	return "random remark"
}

type fixedSource struct {
	f float64
	n int
}

func (s fixedSource) Float64() float64 { return s.f }
func (s fixedSource) IntN(int) int     { return s.n }

type fixture struct {
	router *Router
	sched  *fakeScheduler
	cmds   *fakeCommands
	gen    *fakeGenerator
	memory *memory.Store
}

func newFixture(src randutil.Source) fixture {
	f := fixture{
		sched:  &fakeScheduler{},
		cmds:   &fakeCommands{},
		gen:    &fakeGenerator{},
		memory: memory.NewStore(0),
	}
	f.router = New(Options{
		MentionToken:       DefaultMentionToken,
		AmbientProbability: DefaultAmbientProbability,
		Memory:             f.memory,
		Generator:          f.gen,
		Commands:           f.cmds,
		Scheduler:          f.sched,
		Random:             src,
	})
	return f
}

func TestMentionSchedulesAckThenMedia(t *testing.T) {
	media := persona.Default().Mention.Media
	for _, body := range []string{"call 9950757442 now", "hey @9950757442"} {
		t.Run(body, func(t *testing.T) {
			f := newFixture(fixedSource{f: 0.99, n: 2})
			f.router.HandleMessage(context.Background(), &fakeMessage{id: "m1", body: body, from: "123@c.us"})

			if len(f.sched.sent) != 2 {
				t.Fatalf("scheduled = %v, want exactly 2", f.sched.sent)
			}
			if f.sched.sent[0] != "📢 Hey I see someone mentioned you!" {
				t.Fatalf("first reply = %q, want acknowledgement", f.sched.sent[0])
			}
			if f.sched.sent[1] != media[2] {
				t.Fatalf("second reply = %q, want %q", f.sched.sent[1], media[2])
			}
		})
	}
}

func TestMentionMediaIsOneOfThree(t *testing.T) {
	media := persona.Default().Mention.Media
	f := newFixture(randutil.New(3))
	f.router.ambientProb = 0
	for i := 0; i < 30; i++ {
		f.router.HandleMessage(context.Background(), &fakeMessage{body: "9950757442", from: "dm"})
	}
	for i := 1; i < len(f.sched.sent); i += 2 {
		found := false
		for _, m := range media {
			if f.sched.sent[i] == m {
				found = true
			}
		}
		if !found {
			t.Fatalf("media reply = %q, not in %v", f.sched.sent[i], media)
		}
	}
}

func TestAmbientFractionConverges(t *testing.T) {
	f := newFixture(randutil.New(20260301))
	const trials = 20000
	for i := 0; i < trials; i++ {
		f.router.HandleMessage(context.Background(), &fakeMessage{body: "just chatting", author: "a@c.us", from: "g1@g.us", group: true})
	}
	got := float64(len(f.sched.sent)) / trials
	if math.Abs(got-0.03) > 0.006 {
		t.Fatalf("ambient fraction = %.4f, want about 0.03", got)
	}
	for _, c := range f.gen.contexts {
		if c != "Random comment" {
			t.Fatalf("ambient context = %q, want Random comment", c)
		}
	}
}

func TestAmbientNeverFiresInDirectChats(t *testing.T) {
	f := newFixture(fixedSource{f: 0})
	f.router.HandleMessage(context.Background(), &fakeMessage{body: "hello", from: "123@c.us"})
	if len(f.sched.sent) != 0 || len(f.gen.contexts) != 0 {
		t.Fatalf("direct chat produced replies %v", f.sched.sent)
	}
}

func TestMemoryUpdatedOnlyForGroups(t *testing.T) {
	f := newFixture(fixedSource{f: 0.99})
	ctx := context.Background()
	f.router.HandleMessage(ctx, &fakeMessage{body: "lol same", author: "a@c.us", from: "g1@g.us", group: true})
	f.router.HandleMessage(ctx, &fakeMessage{body: "LOL again", author: "a@c.us", from: "g1@g.us", group: true})
	f.router.HandleMessage(ctx, &fakeMessage{body: "lol dm", from: "dm@c.us"})

	if got := f.memory.ParticipantCount("g1@g.us", "a@c.us"); got != 2 {
		t.Fatalf("participant count = %d, want 2", got)
	}
	if got := f.memory.RecentPhrases("g1@g.us", 10); len(got) != 2 || got[1] != "LOL again" {
		t.Fatalf("phrases = %v, want original-case phrases", got)
	}
	if _, ok := f.memory.LastActive("g1@g.us"); !ok {
		t.Fatalf("group last active not recorded")
	}
	if _, ok := f.memory.LastActive("dm@c.us"); ok {
		t.Fatalf("direct chat recorded in memory")
	}
}

func TestSelfFilter(t *testing.T) {
	f := newFixture(fixedSource{f: 0})
	ctx := context.Background()
	f.router.HandleMessage(ctx, &fakeMessage{body: "9950757442 lol", fromMe: true, from: "g1@g.us", group: true})
	if len(f.sched.sent) != 0 || len(f.cmds.cmds) != 0 {
		t.Fatalf("own message produced actions: sent=%v cmds=%v", f.sched.sent, f.cmds.cmds)
	}
	if _, ok := f.memory.LastActive("g1@g.us"); ok {
		t.Fatalf("own message updated memory")
	}

	f.router.HandleMessage(ctx, &fakeMessage{body: "!help", fromMe: true, from: "dm@c.us"})
	if len(f.cmds.cmds) != 1 || f.cmds.cmds[0].Name != "help" {
		t.Fatalf("own command not dispatched: %v", f.cmds.cmds)
	}
}

func TestAllPathsFireInOrder(t *testing.T) {
	f := newFixture(fixedSource{f: 0, n: 0})
	f.router.HandleMessage(context.Background(), &fakeMessage{body: "!roast 9950757442", author: "a@c.us", from: "g1@g.us", group: true})

	if len(f.cmds.cmds) != 1 {
		t.Fatalf("commands = %v, want 1", f.cmds.cmds)
	}
	cmd := f.cmds.cmds[0]
	if cmd.Name != "roast" || cmd.Argument != "9950757442" || cmd.Requester != "a@c.us" || cmd.Conversation != "g1@g.us" {
		t.Fatalf("command = %#v", cmd)
	}
	want := []string{"📢 Hey I see someone mentioned you!", persona.Default().Mention.Media[0], "random remark"}
	if len(f.sched.sent) != len(want) {
		t.Fatalf("scheduled = %v, want %v", f.sched.sent, want)
	}
	for i := range want {
		if f.sched.sent[i] != want[i] {
			t.Fatalf("scheduled[%d] = %q, want %q", i, f.sched.sent[i], want[i])
		}
	}
}

type recordingMessage struct {
	fakeMessage

	mu      sync.Mutex
	replies []string
}

func (m *recordingMessage) Reply(_ context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, content)
	return nil
}

func TestRoastCommandEndToEnd(t *testing.T) {
	src := fixedSource{f: 0.99}
	store := memory.NewStore(0)
	gen := &fakeGenerator{}
	sched := scheduler.New(scheduler.Options{
		MinDelay: scheduler.DefaultMinDelay,
		MaxDelay: scheduler.DefaultMaxDelay,
		Random:   src,
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	r := New(Options{
		Memory:    store,
		Generator: gen,
		Commands:  commands.New(commands.Options{Generator: gen, Scheduler: sched}),
		Scheduler: sched,
		Random:    src,
	})

	msg := &recordingMessage{fakeMessage: fakeMessage{id: "m1", body: "!roast bob", author: "a@c.us", from: "g1@g.us", group: true}}
	r.HandleMessage(context.Background(), msg)

	if len(msg.replies) != 1 || msg.replies[0] != "random remark 🔥" {
		t.Fatalf("replies = %q, want one roast ending in 🔥", msg.replies)
	}
	if len(gen.contexts) != 1 || gen.contexts[0] != "Roast bob" {
		t.Fatalf("generator contexts = %v, want [Roast bob]", gen.contexts)
	}
	if got := store.ParticipantCount("g1@g.us", "a@c.us"); got != 1 {
		t.Fatalf("participant count = %d, want 1", got)
	}
	if _, ok := store.LastActive("g1@g.us"); !ok {
		t.Fatalf("group last active not recorded")
	}
}

func TestErrorsAreSwallowed(t *testing.T) {
	f := newFixture(fixedSource{f: 0})
	f.router.HandleMessage(context.Background(), &fakeMessage{body: "hi", chatErr: errors.New("chat gone")})
	f.router.HandleMessage(context.Background(), nil)

	f.sched.panic = true
	f.router.HandleMessage(context.Background(), &fakeMessage{body: "9950757442", from: "dm"})
}
