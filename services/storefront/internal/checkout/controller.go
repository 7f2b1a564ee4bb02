package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bananastore/internal/util"
	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
	"bananastore/pkg/store"
	"bananastore/services/storefront/internal/apperr"
	"bananastore/services/storefront/internal/cart"
	"bananastore/services/storefront/internal/shopclient"
)

const (
	stateKey        = "checkout"
	lockKey         = "checkout-inflight"
	defaultStateTTL = 24 * time.Hour
	defaultLockTTL  = 2 * time.Minute
)

// Remote is the subset of the shop API checkout calls.
type Remote interface {
	PaymentMethods(ctx context.Context) (domain.PaymentMethods, error)
	CreatePayment(ctx context.Context, req shopclient.PaymentRequest) (shopclient.PaymentSession, error)
	Buy(ctx context.Context, req shopclient.BuyRequest) (shopclient.BuyResult, error)
}

// StockUpdater receives product changes reported by a purchase.
type StockUpdater interface {
	ApplyStock(ctx context.Context, products []domain.Product) error
}

// Notifier is told about completed orders. Failures never fail a checkout.
type Notifier interface {
	NotifyOrder(ctx context.Context, order domain.Order, user domain.User, method domain.PaymentMethod) error
}

type Options struct {
	// SuccessURL and CancelURL are where hosted payment pages send the
	// shopper back to.
	SuccessURL   string
	CancelURL    string
	Phases       []Phase
	PaymentDelay time.Duration
	StateTTL     time.Duration
	LockTTL      time.Duration
}

// Result is the outcome of Checkout. RedirectURL means the browser must
// leave for a hosted payment page; PopupURL is opened in a new tab while
// the purchase is finalised here.
type Result struct {
	State       State  `json:"state"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	PopupURL    string `json:"popupUrl,omitempty"`
}

type Controller struct {
	remote   Remote
	carts    *cart.Store
	stock    StockUpdater
	notifier Notifier
	ledger   store.Store
	opts     Options
	state    kv.Value[State]

	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	attemptID func() string
}

func NewController(remote Remote, carts *cart.Store, stock StockUpdater, notifier Notifier, ledger store.Store, opts Options) *Controller {
	if opts.Phases == nil {
		opts.Phases = DefaultPhases
	}
	if opts.PaymentDelay < 0 {
		opts.PaymentDelay = 0
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = defaultStateTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if ledger == nil {
		ledger = store.NewMemoryStore()
	}
	return &Controller{
		remote:    remote,
		carts:     carts,
		stock:     stock,
		notifier:  notifier,
		ledger:    ledger,
		opts:      opts,
		state:     kv.NewValue[State](stateKey, opts.StateTTL),
		sleep:     sleepContext,
		now:       time.Now,
		attemptID: uuid.NewString,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the checkout record, starting at details when none exists.
func (c *Controller) State(ctx context.Context, scope kv.Scope) (State, error) {
	st, ok, err := c.state.Get(ctx, scope)
	if err != nil {
		return State{}, fmt.Errorf("load checkout state: %w", err)
	}
	if !ok {
		return newState(), nil
	}
	return st, nil
}

func (c *Controller) save(ctx context.Context, scope kv.Scope, st State) error {
	if err := c.state.Set(ctx, scope, st); err != nil {
		return fmt.Errorf("save checkout state: %w", err)
	}
	return nil
}

// LoadPaymentMethods fetches rail availability. Any failure reports every
// rail as disabled.
func (c *Controller) LoadPaymentMethods(ctx context.Context) domain.PaymentMethods {
	methods, err := c.remote.PaymentMethods(ctx)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("payment methods unavailable", "err", err)
		return domain.PaymentMethods{}
	}
	return methods
}

// Open starts a checkout at the details step with fresh rail availability.
// A checkout that is still processing is left alone.
func (c *Controller) Open(ctx context.Context, scope kv.Scope) (State, error) {
	st, err := c.State(ctx, scope)
	if err != nil {
		return State{}, err
	}
	if st.Step == StepProcessing && c.processing(ctx, scope) {
		return st, nil
	}
	next := newState()
	next.Methods = c.LoadPaymentMethods(ctx)
	if err := c.save(ctx, scope, next); err != nil {
		return State{}, err
	}
	return next, nil
}

// processing reports whether a checkout holds the in-flight lock.
func (c *Controller) processing(ctx context.Context, scope kv.Scope) bool {
	release, ok, err := scope.TryLock(ctx, lockKey, time.Second)
	if err != nil {
		return true
	}
	if ok {
		release()
	}
	return !ok
}

// Proceed moves from the cart summary to payment method selection.
func (c *Controller) Proceed(ctx context.Context, scope kv.Scope, user *domain.User) (State, error) {
	st, err := c.State(ctx, scope)
	if err != nil {
		return State{}, err
	}
	if user == nil {
		return c.reject(ctx, scope, st, apperr.Validation(msgSignInRequired))
	}
	if st.Step != StepDetails && st.Step != StepPayment {
		return c.reject(ctx, scope, st, apperr.StateMismatch(msgInProgress))
	}
	items, err := c.carts.Load(ctx, scope)
	if err != nil {
		return State{}, err
	}
	if items.Empty() {
		return c.reject(ctx, scope, st, apperr.Validation(msgCartEmpty))
	}
	st.Step = StepPayment
	st.Error = ""
	if err := c.save(ctx, scope, st); err != nil {
		return State{}, err
	}
	return st, nil
}

func (c *Controller) reject(ctx context.Context, scope kv.Scope, st State, err error) (State, error) {
	st.Error = apperr.UserMessage(err)
	if saveErr := c.save(ctx, scope, st); saveErr != nil {
		util.LoggerFromContext(ctx).Error("checkout state save failed", "err", saveErr)
	}
	return st, err
}

// Checkout pays for the session cart with method.
func (c *Controller) Checkout(ctx context.Context, scope kv.Scope, user domain.User, method domain.PaymentMethod) (Result, error) {
	release, ok, err := scope.TryLock(ctx, lockKey, c.opts.LockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("checkout lock: %w", err)
	}
	if !ok {
		return Result{}, apperr.StateMismatch(msgInProgress)
	}
	defer release()

	st, err := c.State(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if st.Step != StepPayment {
		st, err = c.reject(ctx, scope, st, apperr.StateMismatch(msgChooseMethod))
		return Result{State: st}, err
	}
	if _, known := notConfigured[method]; !known {
		st, err = c.reject(ctx, scope, st, apperr.Validation(msgUnknownMethod))
		return Result{State: st}, err
	}
	st.Method = method
	if !st.Methods.Rail(method).Enabled {
		st, err = c.reject(ctx, scope, st, apperr.Configuration(NotConfiguredMessage(method)))
		return Result{State: st}, err
	}
	items, err := c.carts.Load(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if items.Empty() {
		st, err = c.reject(ctx, scope, st, apperr.Validation(msgCartEmpty))
		return Result{State: st}, err
	}

	started := c.now().UTC()
	order := domain.Order{
		ID:          fmt.Sprintf("ord-%d", started.UnixMilli()),
		UserID:      user.ID,
		Items:       append([]domain.CartItem(nil), items.Items...),
		Total:       items.Total().InexactFloat64(),
		Status:      domain.OrderPending,
		CreatedAt:   started,
		Credentials: map[string]string{},
	}
	attempt := domain.CheckoutAttempt{
		ID:        c.attemptID(),
		UserID:    user.ID,
		OrderID:   order.ID,
		Method:    method,
		Status:    domain.AttemptStarted,
		Total:     items.Total().StringFixed(2),
		Items:     order.Items,
		CreatedAt: started,
		UpdatedAt: started,
	}
	c.record(ctx, attempt)

	st.Step = StepProcessing
	st.Error = ""
	st.Order = nil
	st.AttemptID = attempt.ID
	if len(c.opts.Phases) > 0 {
		st.Phase = c.opts.Phases[0].Label
	}
	if err := c.save(ctx, scope, st); err != nil {
		return Result{}, err
	}

	// the payment goes ahead even if the browser disconnects
	run := &attemptRun{c: c, scope: scope, st: st, attempt: attempt, order: order, user: user}
	return run.execute(context.WithoutCancel(ctx))
}

func (c *Controller) record(ctx context.Context, attempt domain.CheckoutAttempt) {
	if err := c.ledger.SaveAttempt(ctx, attempt); err != nil {
		util.LoggerFromContext(ctx).Error("checkout ledger write failed", "attempt_id", attempt.ID, "status", attempt.Status, "err", err)
	}
}

type attemptRun struct {
	c       *Controller
	scope   kv.Scope
	st      State
	attempt domain.CheckoutAttempt
	order   domain.Order
	user    domain.User
}

func (r *attemptRun) execute(ctx context.Context) (Result, error) {
	if err := r.playPhases(ctx); err != nil {
		return r.fail(ctx, err)
	}
	c := r.c
	method := r.attempt.Method
	payment, err := c.remote.CreatePayment(ctx, shopclient.PaymentRequest{
		Order:      r.order,
		User:       r.user,
		Method:     method,
		SuccessURL: c.opts.SuccessURL,
		CancelURL:  c.opts.CancelURL,
		AttemptID:  r.attempt.ID,
	})
	if err != nil {
		return r.fail(ctx, shopclient.AsRemote(err, msgPaymentSessionFailed))
	}
	if !payment.OK {
		return r.fail(ctx, apperr.Remote(msgPaymentSessionFailed, 0, nil))
	}

	switch {
	case method == domain.PaymentCard:
		if payment.CheckoutURL == "" {
			return r.fail(ctx, apperr.Remote(msgCardSessionFailed, 0, nil))
		}
		return r.redirect(ctx, payment.CheckoutURL)
	case method == domain.PaymentCrypto && !payment.Manual:
		if payment.CheckoutURL == "" {
			return r.fail(ctx, apperr.Remote(msgCryptoSessionFailed, 0, nil))
		}
		return r.redirect(ctx, payment.CheckoutURL)
	}

	bought, err := c.remote.Buy(ctx, shopclient.BuyRequest{
		Order:     r.order,
		User:      r.user,
		Method:    method,
		Verified:  true,
		AttemptID: r.attempt.ID,
	})
	if err != nil {
		return r.fail(ctx, shopclient.AsRemote(err, msgPurchaseFailed))
	}
	if !bought.OK {
		return r.fail(ctx, apperr.Remote(msgPurchaseFailed, 0, nil))
	}
	return r.succeed(ctx, bought, payment.CheckoutURL)
}

// playPhases steps through the status lines, then waits out the payment delay.
func (r *attemptRun) playPhases(ctx context.Context) error {
	c := r.c
	var elapsed time.Duration
	for i, phase := range c.opts.Phases {
		if i == 0 {
			continue
		}
		if err := c.sleep(ctx, phase.At-elapsed); err != nil {
			return err
		}
		elapsed = phase.At
		r.st.Phase = phase.Label
		if err := c.save(ctx, r.scope, r.st); err != nil {
			return err
		}
	}
	if c.opts.PaymentDelay > elapsed {
		return c.sleep(ctx, c.opts.PaymentDelay-elapsed)
	}
	return nil
}

func (r *attemptRun) redirect(ctx context.Context, target string) (Result, error) {
	r.attempt.Status = domain.AttemptRedirected
	r.attempt.CheckoutURL = target
	r.attempt.UpdatedAt = r.c.now().UTC()
	r.c.record(ctx, r.attempt)
	if err := r.c.save(ctx, r.scope, r.st); err != nil {
		return Result{}, err
	}
	return Result{State: r.st, RedirectURL: target}, nil
}

func (r *attemptRun) succeed(ctx context.Context, bought shopclient.BuyResult, popupURL string) (Result, error) {
	c := r.c
	logger := util.LoggerFromContext(ctx)
	final := r.order
	final.Status = domain.OrderCompleted
	if bought.Order != nil {
		final = *bought.Order
	}
	if len(bought.Products) > 0 && c.stock != nil {
		if err := c.stock.ApplyStock(ctx, bought.Products); err != nil {
			logger.Warn("apply stock update failed", "err", err)
		}
	}
	if err := c.carts.Clear(ctx, r.scope); err != nil {
		logger.Error("clear cart after purchase failed", "order_id", final.ID, "err", err)
	}
	if c.notifier != nil {
		if err := c.notifier.NotifyOrder(ctx, final, r.user, r.attempt.Method); err != nil {
			logger.Error("order notification failed", "order_id", final.ID, "err", err)
		}
	}

	r.attempt.Status = domain.AttemptCompleted
	r.attempt.OrderID = final.ID
	r.attempt.CheckoutURL = popupURL
	r.attempt.UpdatedAt = c.now().UTC()
	c.record(ctx, r.attempt)

	r.st.Step = StepSuccess
	r.st.Phase = ""
	r.st.Order = &final
	if err := c.save(ctx, r.scope, r.st); err != nil {
		return Result{}, err
	}
	logger.Info("checkout completed", "order_id", final.ID, "attempt_id", r.attempt.ID, "method", r.attempt.Method)
	return Result{State: r.st, PopupURL: popupURL}, nil
}

// fail surfaces err and returns to method selection.
func (r *attemptRun) fail(ctx context.Context, err error) (Result, error) {
	c := r.c
	if apperr.KindOf(err) == apperr.KindUnknown {
		util.LoggerFromContext(ctx).Error("checkout failed", "attempt_id", r.attempt.ID, "err", err)
	}
	msg := apperr.UserMessage(err)
	r.attempt.Status = domain.AttemptFailed
	r.attempt.Error = msg
	r.attempt.UpdatedAt = c.now().UTC()
	c.record(ctx, r.attempt)

	r.st.Step = StepPayment
	r.st.Phase = ""
	r.st.Error = msg
	if saveErr := c.save(ctx, r.scope, r.st); saveErr != nil {
		util.LoggerFromContext(ctx).Error("checkout state save failed", "err", saveErr)
	}
	return Result{State: r.st}, err
}

// Return handles the shopper coming back from a hosted payment page.
// Success is confirmed out-of-band, so it only clears the cart and resets.
func (c *Controller) Return(ctx context.Context, scope kv.Scope, status string) (State, error) {
	st, err := c.State(ctx, scope)
	if err != nil {
		return State{}, err
	}
	switch status {
	case "cancel", "cancelled":
		c.closeAttempt(ctx, st.AttemptID, domain.AttemptCancelled, msgCancelled)
		st.Step = StepPayment
		st.Phase = ""
		st.Error = msgCancelled
		if err := c.save(ctx, scope, st); err != nil {
			return State{}, err
		}
		return st, nil
	case "success":
		if err := c.carts.Clear(ctx, scope); err != nil {
			return State{}, err
		}
		next := newState()
		if err := c.save(ctx, scope, next); err != nil {
			return State{}, err
		}
		return next, nil
	default:
		return st, apperr.Validation(msgUnknownReturn)
	}
}

func (c *Controller) closeAttempt(ctx context.Context, id string, status domain.AttemptStatus, msg string) {
	if id == "" {
		return
	}
	attempt, ok, err := c.ledger.GetAttempt(ctx, id)
	if err != nil || !ok {
		if err != nil {
			util.LoggerFromContext(ctx).Warn("checkout ledger read failed", "attempt_id", id, "err", err)
		}
		return
	}
	if attempt.Status == domain.AttemptCompleted {
		return
	}
	attempt.Status = status
	attempt.Error = msg
	attempt.UpdatedAt = c.now().UTC()
	c.record(ctx, attempt)
}

// Close discards a checkout that is not processing.
func (c *Controller) Close(ctx context.Context, scope kv.Scope) error {
	if c.processing(ctx, scope) {
		return apperr.StateMismatch(msgInProgress)
	}
	return c.state.Clear(ctx, scope)
}

// Attempts lists the user's recent checkout attempts.
func (c *Controller) Attempts(ctx context.Context, userID string, limit int) ([]domain.CheckoutAttempt, error) {
	if userID == "" {
		return nil, errors.New("checkout: user id is required")
	}
	return c.ledger.ListAttemptsByUser(ctx, userID, limit)
}
