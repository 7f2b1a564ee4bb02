package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bananastore/internal/util"
	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
	"bananastore/services/storefront/internal/apperr"
)

const (
	historyKey        = "chat-history"
	lockKey           = "chat-inflight"
	defaultHistoryTTL = 24 * time.Hour
	defaultLockTTL    = 60 * time.Second
	welcomeID         = "welcome"
)

const (
	FallbackReply  = "I am having trouble right now. Please try again in a moment."
	msgEmpty       = "Type a message first."
	msgBusy        = "The assistant is still replying."
	welcomeMessage = "Yo! %s here. What digital goods are we huntin' today?"
)

// Responder answers one shopper message given the live inventory.
type Responder interface {
	Reply(ctx context.Context, message string, products []domain.Product) (string, error)
}

type ProductSource interface {
	Products(ctx context.Context) ([]domain.Product, error)
}

type Options struct {
	BotName    string
	HistoryTTL time.Duration
	LockTTL    time.Duration
}

// Assistant keeps the per-session chat transcript.
type Assistant struct {
	responder Responder
	products  ProductSource
	history   kv.Log[domain.ChatMessage]
	opts      Options
	now       func() time.Time
	newID     func() string
}

func New(responder Responder, products ProductSource, opts Options) *Assistant {
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = defaultHistoryTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &Assistant{
		responder: responder,
		products:  products,
		history:   kv.NewLog[domain.ChatMessage](historyKey, opts.HistoryTTL),
		opts:      opts,
		now:       time.Now,
		newID:     util.NewID,
	}
}

// History returns the transcript, seeding the welcome message on first use.
func (a *Assistant) History(ctx context.Context, scope kv.Scope) ([]domain.ChatMessage, error) {
	msgs, err := a.history.All(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	if len(msgs) > 0 {
		return msgs, nil
	}
	welcome := domain.ChatMessage{
		ID:        welcomeID,
		Role:      domain.ChatRoleAssistant,
		Text:      fmt.Sprintf(welcomeMessage, a.opts.BotName),
		Timestamp: a.now().UTC(),
	}
	if err := a.history.Append(ctx, scope, welcome); err != nil {
		return nil, fmt.Errorf("seed chat history: %w", err)
	}
	return []domain.ChatMessage{welcome}, nil
}

// Send appends the shopper's message and the assistant's answer. Responder
// failures become the fallback reply rather than an error.
func (a *Assistant) Send(ctx context.Context, scope kv.Scope, text string) ([]domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation(msgEmpty)
	}
	release, ok, err := scope.TryLock(ctx, lockKey, a.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("chat lock: %w", err)
	}
	if !ok {
		return nil, apperr.StateMismatch(msgBusy)
	}
	defer release()

	if _, err := a.History(ctx, scope); err != nil {
		return nil, err
	}
	question := domain.ChatMessage{ID: a.newID(), Role: domain.ChatRoleUser, Text: text, Timestamp: a.now().UTC()}
	if err := a.history.Append(ctx, scope, question); err != nil {
		return nil, fmt.Errorf("append chat message: %w", err)
	}

	logger := util.LoggerFromContext(ctx)
	products, err := a.products.Products(ctx)
	if err != nil {
		logger.Warn("chat inventory unavailable", "err", err)
		products = nil
	}
	reply, err := a.responder.Reply(ctx, text, products)
	if err != nil || strings.TrimSpace(reply) == "" {
		logger.Error("chat reply failed", "err", err)
		reply = FallbackReply
	}
	answer := domain.ChatMessage{ID: a.newID(), Role: domain.ChatRoleAssistant, Text: reply, Timestamp: a.now().UTC()}
	if err := a.history.Append(ctx, scope, answer); err != nil {
		return nil, fmt.Errorf("append chat reply: %w", err)
	}
	return []domain.ChatMessage{question, answer}, nil
}

// Clear drops the transcript.
func (a *Assistant) Clear(ctx context.Context, scope kv.Scope) error {
	return a.history.Clear(ctx, scope)
}

// Chain tries each responder in order and returns the first reply.
type Chain []Responder

func (c Chain) Reply(ctx context.Context, message string, products []domain.Product) (string, error) {
	var errs []error
	for _, r := range c {
		if r == nil {
			continue
		}
		reply, err := r.Reply(ctx, message, products)
		if err == nil && strings.TrimSpace(reply) != "" {
			return reply, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no responder produced a reply")
	}
	return "", errors.Join(errs...)
}
