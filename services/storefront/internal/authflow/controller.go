package authflow

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
	"bananastore/services/storefront/internal/pendinglink"
	"bananastore/services/storefront/internal/shopclient"
)

const (
	flowKey        = "auth-flow"
	lockKey        = "auth-inflight"
	defaultFlowTTL = 24 * time.Hour
	defaultLockTTL = 30 * time.Second
)

const (
	msgCredentialsRequired = "Email and password are required."
	msgCodeRequired        = "Verification code is required."
	msgInProgress          = "A sign-in attempt is already in progress."
	msgSuperseded          = "This sign-in attempt is no longer active."
	msgNoVerification      = "No verification is pending. Please sign in again."
	msgTokenMismatch       = "Verification session changed. Please sign in again."
	msgNoPrompt            = "No Discord link is waiting. Please sign in again."
	msgLinkExpired         = "Discord link session expired. Please sign in again."
	msgLinkMismatch        = "This Discord link belongs to a different account. Please sign in again."
	msgLinkRequired        = "Discord linking is required to finish signing in."
	msgOTPNotice           = "Enter the verification code sent to your email."
	msgLoginFailed         = "Login failed."
	msgVerifyFailed        = "Verification failed."
	msgRegisterFailed      = "Registration failed."
	msgLinkFailed          = "Failed to start Discord linking."
)

// Remote is the subset of the shop API the sign-in flow calls.
type Remote interface {
	Login(ctx context.Context, email, password string) (shopclient.LoginResult, error)
	VerifyOTP(ctx context.Context, otpToken, code string) (shopclient.VerifyResult, error)
	Register(ctx context.Context, email, password string) (domain.User, error)
	LinkToken(ctx context.Context, userID string) (string, error)
	ConnectURL(ctx context.Context, linkToken, returnURL string) (string, error)
}

// Completer receives the authenticated user once a flow finishes.
type Completer interface {
	Complete(ctx context.Context, scope kv.Scope, user domain.User) error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, scope kv.Scope, user domain.User) error

func (f CompleterFunc) Complete(ctx context.Context, scope kv.Scope, user domain.User) error {
	return f(ctx, scope, user)
}

type Options struct {
	// AuthReturnURL and DashboardReturnURL are the callback pages handed to
	// the Discord consent screen.
	AuthReturnURL      string
	DashboardReturnURL string
	FlowTTL            time.Duration
	LockTTL            time.Duration
}

// Result is the outcome of a flow operation. User is set only when the
// operation handed a user to the Completer; RedirectURL when the browser
// must leave the storefront.
type Result struct {
	Flow        Flow         `json:"flow"`
	User        *domain.User `json:"user,omitempty"`
	RedirectURL string       `json:"redirectUrl,omitempty"`
}

// Controller drives the sign-in state machine for one session scope at a time.
type Controller struct {
	remote    Remote
	pending   *pendinglink.Store
	completer Completer
	flow      kv.Value[Flow]
	opts      Options
	now       func() time.Time
}

func NewController(remote Remote, pending *pendinglink.Store, completer Completer, opts Options) *Controller {
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = defaultFlowTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if pending == nil {
		pending = pendinglink.NewStore(0)
	}
	return &Controller{
		remote:    remote,
		pending:   pending,
		completer: completer,
		flow:      kv.NewValue[Flow](flowKey, opts.FlowTTL),
		opts:      opts,
		now:       time.Now,
	}
}

// State returns the current flow, starting a fresh one when none is stored.
func (c *Controller) State(ctx context.Context, scope kv.Scope) (Flow, error) {
	flow, ok, err := c.flow.Get(ctx, scope)
	if err != nil {
		return Flow{}, fmt.Errorf("load auth flow: %w", err)
	}
	if !ok {
		return newFlow(), nil
	}
	return flow, nil
}

func (c *Controller) save(ctx context.Context, scope kv.Scope, flow Flow) error {
	if err := c.flow.Set(ctx, scope, flow); err != nil {
		return fmt.Errorf("save auth flow: %w", err)
	}
	return nil
}

func (c *Controller) guard(ctx context.Context, scope kv.Scope) (func(), error) {
	release, ok, err := scope.TryLock(ctx, lockKey, c.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("auth lock: %w", err)
	}
	if !ok {
		return nil, apperr.StateMismatch(msgInProgress)
	}
	return release, nil
}

// fail records err as the flow's inline message and returns it.
func (c *Controller) fail(ctx context.Context, scope kv.Scope, flow Flow, err error) (Result, error) {
	if apperr.KindOf(err) == apperr.KindUnknown {
		util.LoggerFromContext(ctx).Error("auth flow failed", "state", flow.State, "err", err)
	}
	flow.Error = apperr.UserMessage(err)
	if saveErr := c.save(ctx, scope, flow); saveErr != nil {
		util.LoggerFromContext(ctx).Error("auth flow save failed", "err", saveErr)
	}
	return Result{Flow: flow}, err
}

// reject fails without leaving the current step.
func (c *Controller) reject(ctx context.Context, scope kv.Scope, err error) (Result, error) {
	flow, loadErr := c.State(ctx, scope)
	if loadErr != nil {
		return Result{}, loadErr
	}
	return c.fail(ctx, scope, flow, err)
}

// current reloads the flow after a remote call and reports whether the
// attempt that issued the call is still the active one.
func (c *Controller) current(ctx context.Context, scope kv.Scope, attempt int64) (Flow, error) {
	flow, err := c.State(ctx, scope)
	if err != nil {
		return Flow{}, err
	}
	if flow.Attempt != attempt {
		util.LoggerFromContext(ctx).Info("auth response discarded", "attempt", attempt, "active_attempt", flow.Attempt)
		return flow, apperr.StateMismatch(msgSuperseded)
	}
	return flow, nil
}

// begin starts a new credentials attempt.
func (c *Controller) begin(ctx context.Context, scope kv.Scope, mode Mode) (Flow, error) {
	flow, err := c.State(ctx, scope)
	if err != nil {
		return Flow{}, err
	}
	flow.toCredentials()
	flow.Mode = mode
	flow.Error = ""
	flow.Attempt++
	if err := c.save(ctx, scope, flow); err != nil {
		return Flow{}, err
	}
	return flow, nil
}

// Login submits credentials. With autoConnect a shopper without a Discord
// link is sent straight to the consent screen.
func (c *Controller) Login(ctx context.Context, scope kv.Scope, email, password string, autoConnect bool) (Result, error) {
	email, password = normalizeCredentials(email, password)
	if email == "" || password == "" {
		return c.reject(ctx, scope, apperr.Validation(msgCredentialsRequired))
	}
	release, err := c.guard(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	defer release()
	return c.login(ctx, scope, email, password, autoConnect)
}

func (c *Controller) login(ctx context.Context, scope kv.Scope, email, password string, autoConnect bool) (Result, error) {
	flow, err := c.begin(ctx, scope, ModeLogin)
	if err != nil {
		return Result{}, err
	}
	res, callErr := c.remote.Login(ctx, email, password)
	flow, err = c.current(ctx, scope, flow.Attempt)
	if err != nil {
		return Result{Flow: flow}, err
	}
	if callErr != nil {
		return c.fail(ctx, scope, flow, shopclient.AsRemote(callErr, msgLoginFailed))
	}
	if res.RequiresTwoFactor {
		token := strings.TrimSpace(res.OTPToken)
		if token == "" {
			return c.fail(ctx, scope, flow, apperr.Remote(msgLoginFailed, 0, errors.New("two-factor response without otp token")))
		}
		flow.State = StateOTPPending
		flow.OTPToken = token
		flow.Notice = strings.TrimSpace(res.Message)
		if flow.Notice == "" {
			flow.Notice = msgOTPNotice
		}
		flow.ConnectRequested = autoConnect
		if err := c.save(ctx, scope, flow); err != nil {
			return Result{}, err
		}
		return Result{Flow: flow}, nil
	}
	if res.User == nil {
		return c.fail(ctx, scope, flow, apperr.Remote(msgLoginFailed, 0, errors.New("login response without user")))
	}
	return c.decide(ctx, scope, flow, decision{user: *res.User, message: res.Message, autoConnect: autoConnect})
}

// VerifyOTP completes a two-factor step. An empty token means the one held
// by the session.
func (c *Controller) VerifyOTP(ctx context.Context, scope kv.Scope, token, code string) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return c.reject(ctx, scope, apperr.Validation(msgCodeRequired))
	}
	release, err := c.guard(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	defer release()

	flow, err := c.State(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if flow.State != StateOTPPending || flow.OTPToken == "" {
		return c.fail(ctx, scope, flow, apperr.StateMismatch(msgNoVerification))
	}
	if token = strings.TrimSpace(token); token != "" && token != flow.OTPToken {
		return c.fail(ctx, scope, flow, apperr.StateMismatch(msgTokenMismatch))
	}
	res, callErr := c.remote.VerifyOTP(ctx, flow.OTPToken, code)
	flow, err = c.current(ctx, scope, flow.Attempt)
	if err != nil {
		return Result{Flow: flow}, err
	}
	if callErr != nil {
		return c.fail(ctx, scope, flow, shopclient.AsRemote(callErr, msgVerifyFailed))
	}
	return c.decide(ctx, scope, flow, decision{
		user:         res.User,
		linkToken:    res.LinkToken,
		requiresLink: res.RequiresLink,
		message:      res.Message,
	})
}

// Register creates an account. New accounts skip the two-factor step.
func (c *Controller) Register(ctx context.Context, scope kv.Scope, email, password string) (Result, error) {
	email, password = normalizeCredentials(email, password)
	if email == "" || password == "" {
		return c.reject(ctx, scope, apperr.Validation(msgCredentialsRequired))
	}
	release, err := c.guard(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	defer release()

	flow, err := c.begin(ctx, scope, ModeRegister)
	if err != nil {
		return Result{}, err
	}
	user, callErr := c.remote.Register(ctx, email, password)
	flow, err = c.current(ctx, scope, flow.Attempt)
	if err != nil {
		return Result{Flow: flow}, err
	}
	if callErr != nil {
		return c.fail(ctx, scope, flow, shopclient.AsRemote(callErr, msgRegisterFailed))
	}
	return c.decide(ctx, scope, flow, decision{user: user})
}

type decision struct {
	user         domain.User
	linkToken    string
	requiresLink bool
	message      string
	autoConnect  bool
}

// decide either offers Discord linking or completes the sign-in.
func (c *Controller) decide(ctx context.Context, scope kv.Scope, flow Flow, d decision) (Result, error) {
	offer := d.requiresLink || d.autoConnect || flow.ConnectRequested
	if d.user.HasDiscord() || !offer {
		if err := c.pending.Clear(ctx, scope); err != nil {
			return c.fail(ctx, scope, flow, fmt.Errorf("clear pending link: %w", err))
		}
		return c.complete(ctx, scope, flow, d.user)
	}

	user := d.user
	flow.State = StateDiscordPrompt
	flow.OTPToken = ""
	flow.Notice = strings.TrimSpace(d.message)
	flow.Error = ""
	flow.PromptUser = &user
	flow.RequiresLink = d.requiresLink
	flow.ConnectRequested = false
	if _, err := c.pending.Save(ctx, scope, user, d.linkToken); err != nil {
		return c.fail(ctx, scope, flow, fmt.Errorf("save pending link: %w", err))
	}
	if err := c.save(ctx, scope, flow); err != nil {
		return Result{}, err
	}
	if !d.autoConnect {
		return Result{Flow: flow}, nil
	}
	target, err := c.StartLink(ctx, scope, OriginAuth, user, d.linkToken)
	if err != nil {
		return c.fail(ctx, scope, flow, err)
	}
	return Result{Flow: flow, RedirectURL: target}, nil
}

func (c *Controller) complete(ctx context.Context, scope kv.Scope, flow Flow, user domain.User) (Result, error) {
	if err := c.completer.Complete(ctx, scope, user); err != nil {
		return c.fail(ctx, scope, flow, fmt.Errorf("complete sign-in: %w", err))
	}
	done := Flow{State: StateComplete, Mode: flow.Mode, Attempt: flow.Attempt}
	if err := c.save(ctx, scope, done); err != nil {
		return Result{}, err
	}
	return Result{Flow: done, User: &user}, nil
}

// StartLink persists the pending link and returns the Discord consent URL
// the browser must navigate to. A link token is fetched when none is held.
func (c *Controller) StartLink(ctx context.Context, scope kv.Scope, origin Origin, user domain.User, linkToken string) (string, error) {
	linkToken = strings.TrimSpace(linkToken)
	if linkToken == "" {
		token, err := c.remote.LinkToken(ctx, user.ID)
		if err != nil {
			return "", shopclient.AsRemote(err, msgLinkFailed)
		}
		linkToken = strings.TrimSpace(token)
		if linkToken == "" {
			return "", apperr.Remote(msgLinkFailed, 0, errors.New("empty link token"))
		}
	}
	if _, err := c.pending.Save(ctx, scope, user, linkToken); err != nil {
		return "", fmt.Errorf("save pending link: %w", err)
	}
	target, err := c.remote.ConnectURL(ctx, linkToken, c.returnURL(origin))
	target = strings.TrimSpace(target)
	if err == nil && target == "" {
		err = errors.New("empty connect url")
	}
	if err != nil {
		if clearErr := c.pending.Clear(ctx, scope); clearErr != nil {
			util.LoggerFromContext(ctx).Warn("clear pending link failed", "err", clearErr)
		}
		return "", shopclient.AsRemote(err, msgLinkFailed)
	}
	return target, nil
}

func (c *Controller) returnURL(origin Origin) string {
	if origin == OriginDashboard {
		return c.opts.DashboardReturnURL
	}
	return c.opts.AuthReturnURL
}

// Connect starts the redirect for the link currently offered.
func (c *Controller) Connect(ctx context.Context, scope kv.Scope) (Result, error) {
	release, err := c.guard(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	defer release()

	flow, err := c.State(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if flow.State != StateDiscordPrompt || flow.PromptUser == nil {
		return c.fail(ctx, scope, flow, apperr.StateMismatch(msgNoPrompt))
	}
	user, token := *flow.PromptUser, ""
	rec, err := c.pending.Load(ctx, scope)
	switch {
	case err == nil:
		user, token = rec.User, rec.LinkToken
	case errors.Is(err, pendinglink.ErrNotFound), errors.Is(err, pendinglink.ErrExpired):
	default:
		return c.fail(ctx, scope, flow, fmt.Errorf("load pending link: %w", err))
	}
	target, err := c.StartLink(ctx, scope, OriginAuth, user, token)
	if err != nil {
		return c.fail(ctx, scope, flow, err)
	}
	return Result{Flow: flow, RedirectURL: target}, nil
}

// ConnectFromSignIn links Discord from the credentials form. A pending link
// is resumed as is; otherwise the shopper signs in first.
func (c *Controller) ConnectFromSignIn(ctx context.Context, scope kv.Scope, email, password string) (Result, error) {
	release, err := c.guard(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	defer release()

	rec, err := c.pending.Load(ctx, scope)
	switch {
	case err == nil:
		flow, stateErr := c.State(ctx, scope)
		if stateErr != nil {
			return Result{}, stateErr
		}
		target, linkErr := c.StartLink(ctx, scope, OriginAuth, rec.User, rec.LinkToken)
		if linkErr != nil {
			return c.fail(ctx, scope, flow, linkErr)
		}
		return Result{Flow: flow, RedirectURL: target}, nil
	case errors.Is(err, pendinglink.ErrNotFound), errors.Is(err, pendinglink.ErrExpired):
	default:
		return c.reject(ctx, scope, fmt.Errorf("load pending link: %w", err))
	}

	email, password = normalizeCredentials(email, password)
	if email == "" || password == "" {
		return c.reject(ctx, scope, apperr.Validation(msgCredentialsRequired))
	}
	return c.login(ctx, scope, email, password, true)
}

// Resume handles the Discord return redirect. current is the signed-in user
// for dashboard-originated links. The consumed pending record makes replays
// fail with a state mismatch instead of merging twice.
func (c *Controller) Resume(ctx context.Context, scope kv.Scope, origin Origin, cb Callback, current *domain.User) (Result, error) {
	flow, err := c.State(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	finish := func(err error) (Result, error) {
		if origin == OriginDashboard {
			return Result{Flow: flow}, err
		}
		return c.fail(ctx, scope, flow, err)
	}

	if !cb.Linked() {
		if err := c.pending.Clear(ctx, scope); err != nil {
			util.LoggerFromContext(ctx).Warn("clear pending link failed", "err", err)
		}
		return finish(apperr.Remote(failureMessage(cb.Message), 0, nil))
	}

	rec, err := c.pending.Load(ctx, scope)
	if errors.Is(err, pendinglink.ErrNotFound) || errors.Is(err, pendinglink.ErrExpired) {
		if origin == OriginAuth {
			flow.toCredentials()
		}
		return finish(apperr.StateMismatch(msgLinkExpired))
	}
	if err != nil {
		return finish(fmt.Errorf("load pending link: %w", err))
	}

	pendingEmail := normalizeEmail(rec.User.Email)
	callbackEmail := normalizeEmail(cb.Email)
	mismatch := callbackEmail != "" && callbackEmail != pendingEmail
	if origin == OriginDashboard && (current == nil || normalizeEmail(current.Email) != pendingEmail) {
		mismatch = true
	}
	if mismatch {
		if err := c.pending.Clear(ctx, scope); err != nil {
			util.LoggerFromContext(ctx).Warn("clear pending link failed", "err", err)
		}
		if origin == OriginAuth {
			flow.toCredentials()
		}
		return finish(apperr.StateMismatch(msgLinkMismatch))
	}

	merged := cb.merge(rec.User, c.now())
	if err := c.pending.Clear(ctx, scope); err != nil {
		return finish(fmt.Errorf("clear pending link: %w", err))
	}
	if origin == OriginDashboard {
		if err := c.completer.Complete(ctx, scope, merged); err != nil {
			return finish(fmt.Errorf("update linked user: %w", err))
		}
		return Result{Flow: flow, User: &merged}, nil
	}
	return c.complete(ctx, scope, flow, merged)
}

// Dismiss leaves the link prompt. An optional link completes the sign-in
// without Discord; a required one abandons it.
func (c *Controller) Dismiss(ctx context.Context, scope kv.Scope) (Result, error) {
	release, err := c.guard(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	defer release()

	flow, err := c.State(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if flow.State != StateDiscordPrompt {
		return c.fail(ctx, scope, flow, apperr.StateMismatch(msgNoPrompt))
	}
	if err := c.pending.Clear(ctx, scope); err != nil {
		return c.fail(ctx, scope, flow, fmt.Errorf("clear pending link: %w", err))
	}
	flow.Attempt++
	if flow.RequiresLink || flow.PromptUser == nil {
		flow.toCredentials()
		flow.Error = msgLinkRequired
		if err := c.save(ctx, scope, flow); err != nil {
			return Result{}, err
		}
		return Result{Flow: flow}, nil
	}
	return c.complete(ctx, scope, flow, *flow.PromptUser)
}

// Reset abandons any in-progress sign-in and returns to the credentials form.
func (c *Controller) Reset(ctx context.Context, scope kv.Scope) (Flow, error) {
	flow, err := c.State(ctx, scope)
	if err != nil {
		return Flow{}, err
	}
	return c.reset(ctx, scope, flow, flow.Mode)
}

// SetMode switches between sign-in and sign-up, resetting the flow.
func (c *Controller) SetMode(ctx context.Context, scope kv.Scope, mode Mode) (Flow, error) {
	flow, err := c.State(ctx, scope)
	if err != nil {
		return Flow{}, err
	}
	return c.reset(ctx, scope, flow, mode)
}

func (c *Controller) reset(ctx context.Context, scope kv.Scope, flow Flow, mode Mode) (Flow, error) {
	if err := c.pending.Clear(ctx, scope); err != nil {
		return Flow{}, fmt.Errorf("clear pending link: %w", err)
	}
	if mode == "" {
		mode = ModeLogin
	}
	next := Flow{State: StateCredentials, Mode: mode, Attempt: flow.Attempt + 1}
	if err := c.save(ctx, scope, next); err != nil {
		return Flow{}, err
	}
	return next, nil
}
