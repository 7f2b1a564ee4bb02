package assistant

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
	"bananastore/services/storefront/internal/apperr"
)

type fakeResponder struct {
	reply    string
	err      error
	messages []string
	products [][]domain.Product
}

func (f *fakeResponder) Reply(_ context.Context, message string, products []domain.Product) (string, error) {
	f.messages = append(f.messages, message)
	f.products = append(f.products, products)
	return f.reply, f.err
}

type fakeProducts struct {
	items []domain.Product
	err   error
}

func (f fakeProducts) Products(context.Context) ([]domain.Product, error) {
	return f.items, f.err
}

type fakeGenerator struct {
	system, user string
}

func (f *fakeGenerator) GenerateText(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.system, f.user = systemPrompt, userPrompt
	return "Grab the annual plan.", nil
}

func newAssistant(responder Responder, products ProductSource) (*Assistant, kv.Scope) {
	a := New(responder, products, Options{BotName: "Roblox Keys Bot"})
	n := 0
	a.newID = func() string {
		n++
		return "m" + strconv.Itoa(n)
	}
	return a, kv.NewScope(kv.NewMemoryStore(), "test", "session", "s1")
}

func TestHistorySeedsWelcomeOnce(t *testing.T) {
	a, scope := newAssistant(&fakeResponder{}, fakeProducts{})
	ctx := context.Background()
	first, err := a.History(ctx, scope)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(first) != 1 || first[0].Text != "Yo! Roblox Keys Bot here. What digital goods are we huntin' today?" {
		t.Fatalf("unexpected welcome %+v", first)
	}
	second, _ := a.History(ctx, scope)
	if len(second) != 1 || !second[0].Timestamp.Equal(first[0].Timestamp) {
		t.Fatalf("welcome should be stored once, got %+v", second)
	}
}

func TestSendAppendsQuestionAndReply(t *testing.T) {
	responder := &fakeResponder{reply: "Try Netflix Premium."}
	inventory := []domain.Product{{ID: "p1", Name: "Netflix", Stock: 3}}
	a, scope := newAssistant(responder, fakeProducts{items: inventory})
	ctx := context.Background()

	msgs, err := a.Send(ctx, scope, "  something cheap  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != domain.ChatRoleUser || msgs[0].Text != "something cheap" || msgs[1].Text != "Try Netflix Premium." {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if len(responder.products) != 1 || len(responder.products[0]) != 1 {
		t.Fatalf("expected inventory passed to responder, got %+v", responder.products)
	}
	history, _ := a.History(ctx, scope)
	if len(history) != 3 || history[0].ID != "welcome" {
		t.Fatalf("expected welcome plus two messages, got %+v", history)
	}
}

func TestSendFallsBackWhenResponderFails(t *testing.T) {
	a, scope := newAssistant(&fakeResponder{err: errors.New("bridge down")}, fakeProducts{err: errors.New("catalog down")})
	msgs, err := a.Send(context.Background(), scope, "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgs[1].Text != FallbackReply || msgs[1].Role != domain.ChatRoleAssistant {
		t.Fatalf("expected fallback reply, got %+v", msgs[1])
	}
}

func TestSendRejectsEmptyAndConcurrent(t *testing.T) {
	responder := &fakeResponder{reply: "x"}
	a, scope := newAssistant(responder, fakeProducts{})
	ctx := context.Background()
	if _, err := a.Send(ctx, scope, "   "); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	release, ok, _ := scope.TryLock(ctx, lockKey, defaultLockTTL)
	if !ok {
		t.Fatalf("expected lock")
	}
	defer release()
	if _, err := a.Send(ctx, scope, "hi"); !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if len(responder.messages) != 0 {
		t.Fatalf("responder should not be called")
	}
}

func TestChainUsesFirstSuccessfulResponder(t *testing.T) {
	chain := Chain{&fakeResponder{err: errors.New("down")}, &fakeResponder{reply: "second"}}
	got, err := chain.Reply(context.Background(), "hi", nil)
	if err != nil || got != "second" {
		t.Fatalf("expected second, got %q err=%v", got, err)
	}
	if _, err := (Chain{&fakeResponder{err: errors.New("down")}}).Reply(context.Background(), "hi", nil); err == nil {
		t.Fatalf("expected error when every responder fails")
	}
}

func TestGeneratorResponderPromptsWithInventory(t *testing.T) {
	gen := &fakeGenerator{}
	r := NewGeneratorResponder(gen, "Roblox Keys Bot", "Roblox Keys")
	products := []domain.Product{{Name: "Netflix", Duration: "1 Month", Price: 4.5, Stock: 2, Features: []string{"4K", "UHD"}, Description: "Shared"}}
	reply, err := r.Reply(context.Background(), "cheap?", products)
	if err != nil || reply != "Grab the annual plan." {
		t.Fatalf("unexpected reply %q err=%v", reply, err)
	}
	if gen.user != "cheap?" {
		t.Fatalf("expected user prompt passed through, got %q", gen.user)
	}
	for _, want := range []string{
		"You are Roblox Keys Bot",
		`"Roblox Keys"`,
		"- Netflix (1 Month): $4.5 (Stock: 2). Features: 4K, UHD. Description: Shared",
		"Keep response under 100 words.",
	} {
		if !strings.Contains(gen.system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, gen.system)
		}
	}
}
