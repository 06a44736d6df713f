package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vovakirdan/pairchat/internal/conversation"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/store"
	"github.com/vovakirdan/pairchat/internal/store/sqlite"
)

type staticNames map[int64]string

func (n staticNames) DisplayName(_ context.Context, id int64) string {
	if name, ok := n[id]; ok {
		return name
	}
	return "Anonymous"
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []*core.Event
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, ev *core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	svc        *Service
	pub        *recordingPublisher
	alice, bob *store.User
	carol      *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	users := make([]*store.User, 0, 3)
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := st.CreateUser(ctx, &store.NewUser{Email: name + "@example.com", Username: name, PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		users = append(users, u)
	}
	if err := st.AddFriendship(ctx, users[0].ID, users[1].ID); err != nil {
		t.Fatalf("add friendship: %v", err)
	}

	pub := &recordingPublisher{}
	names := staticNames{users[0].ID: "Alice"}
	return &fixture{
		svc:   New(st, names, pub, nil),
		pub:   pub,
		alice: users[0],
		bob:   users[1],
		carol: users[2],
	}
}

func TestSendStoresAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, f.alice.ID, f.bob.ID, "  hello bob  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Text != "hello bob" || msg.DisplayName != "Alice" || msg.SenderID != f.alice.ID {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.ConversationKey != conversation.Key(f.bob.ID, f.alice.ID) {
		t.Fatalf("unexpected key %q", msg.ConversationKey)
	}
	if msg.CreatedAt.IsZero() || msg.ID == 0 {
		t.Fatalf("expected id and timestamp, got %+v", msg)
	}

	if len(f.pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(f.pub.events))
	}
	if f.pub.topics[0] != conversation.ConversationTopic(msg.ConversationKey) {
		t.Fatalf("unexpected topic %q", f.pub.topics[0])
	}
	if ev := f.pub.events[0]; ev.Kind != core.EventMessageAdded || ev.Message.ID != msg.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		to   int64
		text string
		want error
	}{
		{"empty", f.bob.ID, "   ", ErrEmptyMessage},
		{"too long", f.bob.ID, strings.Repeat("é", MaxMessageRunes+1), ErrMessageTooLong},
		{"not friends", f.carol.ID, "hi", ErrNotFriends},
		{"self", f.alice.ID, "hi", ErrNotFriends},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Send(ctx, f.alice.ID, tt.to, tt.text); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := f.svc.Send(ctx, f.alice.ID, f.bob.ID, strings.Repeat("é", MaxMessageRunes)); err != nil {
		t.Fatalf("message at the limit should be accepted: %v", err)
	}
	if len(f.pub.events) != 1 {
		t.Fatalf("rejected messages must not be published")
	}
}

func TestDeleteOnlyBySender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, f.alice.ID, f.bob.ID, "oops")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := f.svc.Delete(ctx, f.bob.ID, msg.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.alice.ID, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.Delete(ctx, f.alice.ID, msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	last := f.pub.events[len(f.pub.events)-1]
	if last.Kind != core.EventMessageDeleted || last.MessageID != msg.ID {
		t.Fatalf("unexpected delete event %+v", last)
	}
}

func TestHistoryPaginatesAscending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		from, to := f.alice.ID, f.bob.ID
		if i%2 == 1 {
			from, to = to, from
		}
		m, err := f.svc.Send(ctx, from, to, string(rune('a'+i)))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		ids = append(ids, m.ID)
	}

	page, err := f.svc.History(ctx, f.bob.ID, f.alice.ID, 3, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 3 || page[0].Text != "c" || page[2].Text != "e" {
		t.Fatalf("unexpected latest page: %+v", page)
	}
	if page[1].DisplayName != "Anonymous" {
		t.Fatalf("bob has no display name, got %q", page[1].DisplayName)
	}

	older, err := f.svc.History(ctx, f.alice.ID, f.bob.ID, 3, &page[0].ID)
	if err != nil {
		t.Fatalf("history before: %v", err)
	}
	if len(older) != 2 || older[0].ID != ids[0] || older[1].ID != ids[1] {
		t.Fatalf("unexpected older page: %+v", older)
	}

	if _, err := f.svc.History(ctx, f.alice.ID, f.carol.ID, 10, nil); !errors.Is(err, ErrNotFriends) {
		t.Fatalf("expected ErrNotFriends, got %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultHistoryLimit, 0: DefaultHistoryLimit, 1: 1, 200: 200, 201: MaxHistoryLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
