package authflow

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
	"bananastore/services/storefront/internal/apperr"
	"bananastore/services/storefront/internal/pendinglink"
	"bananastore/services/storefront/internal/shopclient"
)

type fakeRemote struct {
	loginResult  shopclient.LoginResult
	loginErr     error
	loginHook    func()
	verifyResult shopclient.VerifyResult
	verifyErr    error
	registerUser domain.User
	linkToken    string
	connectURL   string
	connectErr   error

	loginCalls    []string
	verifyCalls   [][2]string
	registerCalls []string
	connectCalls  [][2]string
	linkCalls     []string
}

func (f *fakeRemote) Login(_ context.Context, email, password string) (shopclient.LoginResult, error) {
	f.loginCalls = append(f.loginCalls, email+"|"+password)
	if f.loginHook != nil {
		f.loginHook()
	}
	return f.loginResult, f.loginErr
}

func (f *fakeRemote) VerifyOTP(_ context.Context, otpToken, code string) (shopclient.VerifyResult, error) {
	f.verifyCalls = append(f.verifyCalls, [2]string{otpToken, code})
	return f.verifyResult, f.verifyErr
}

func (f *fakeRemote) Register(_ context.Context, email, password string) (domain.User, error) {
	f.registerCalls = append(f.registerCalls, email+"|"+password)
	return f.registerUser, nil
}

func (f *fakeRemote) LinkToken(_ context.Context, userID string) (string, error) {
	f.linkCalls = append(f.linkCalls, userID)
	return f.linkToken, nil
}

func (f *fakeRemote) ConnectURL(_ context.Context, linkToken, returnURL string) (string, error) {
	f.connectCalls = append(f.connectCalls, [2]string{linkToken, returnURL})
	return f.connectURL, f.connectErr
}

type recordingCompleter struct {
	users []domain.User
}

func (r *recordingCompleter) Complete(_ context.Context, _ kv.Scope, user domain.User) error {
	r.users = append(r.users, user)
	return nil
}

type harness struct {
	remote    *fakeRemote
	completer *recordingCompleter
	pending   *pendinglink.Store
	ctrl      *Controller
	scope     kv.Scope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		remote:    &fakeRemote{connectURL: "https://discord.example/oauth"},
		completer: &recordingCompleter{},
		pending:   pendinglink.NewStore(0),
		scope:     kv.NewScope(kv.NewMemoryStore(), "test", "session", "s1"),
	}
	h.ctrl = NewController(h.remote, h.pending, h.completer, Options{
		AuthReturnURL:      "https://store.example/auth",
		DashboardReturnURL: "https://store.example/dashboard",
	})
	return h
}

func (h *harness) flow(t *testing.T) Flow {
	t.Helper()
	flow, err := h.ctrl.State(context.Background(), h.scope)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return flow
}

func TestLoginDirectUserCompletesOnce(t *testing.T) {
	h := newHarness(t)
	user := domain.User{ID: "u-1", Email: "user@x.com"}
	h.remote.loginResult = shopclient.LoginResult{User: &user}

	res, err := h.ctrl.Login(context.Background(), h.scope, "user@x.com", "pw", false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(h.completer.users) != 1 || h.completer.users[0].ID != "u-1" {
		t.Fatalf("expected one completion with u-1, got %+v", h.completer.users)
	}
	if res.Flow.State != StateComplete || res.User == nil {
		t.Fatalf("expected complete state with user, got %+v", res)
	}
	if len(h.remote.verifyCalls) != 0 || len(h.remote.connectCalls) != 0 {
		t.Fatalf("expected no otp or link calls")
	}
}

func TestLoginNormalizesCredentials(t *testing.T) {
	h := newHarness(t)
	user := domain.User{ID: "u-1", Email: "a@b.com"}
	h.remote.loginResult = shopclient.LoginResult{User: &user}

	if _, err := h.ctrl.Login(context.Background(), h.scope, " A@B.COM ", "  pw  ", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := h.remote.loginCalls[0]; got != "a@b.com|pw" {
		t.Fatalf("expected normalized credentials, got %q", got)
	}
}

func TestLoginRequiresCredentialsWithoutCallingRemote(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Login(context.Background(), h.scope, "  ", "pw", false)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(h.remote.loginCalls) != 0 {
		t.Fatalf("remote must not be called on invalid input")
	}
	if got := h.flow(t).Error; got != msgCredentialsRequired {
		t.Fatalf("expected inline message, got %q", got)
	}
}

func TestTwoFactorDefersCompletionUntilVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := domain.User{ID: "u-1", Email: "user@x.com"}
	h.remote.loginResult = shopclient.LoginResult{RequiresTwoFactor: true, OTPToken: "T1", Message: "Check your inbox"}
	h.remote.verifyResult = shopclient.VerifyResult{User: user}

	res, err := h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Flow.State != StateOTPPending || res.Flow.Notice != "Check your inbox" {
		t.Fatalf("expected otp-pending with notice, got %+v", res.Flow)
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("completion must wait for verification")
	}
	if _, err := h.ctrl.VerifyOTP(ctx, h.scope, "T1", ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for empty code, got %v", err)
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("completion must wait for a successful verification")
	}
	if _, err := h.ctrl.VerifyOTP(ctx, h.scope, "", "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := h.remote.verifyCalls[0]; got != [2]string{"T1", "123456"} {
		t.Fatalf("expected stored token to be used, got %v", got)
	}
	if len(h.completer.users) != 1 {
		t.Fatalf("expected completion after verification, got %d", len(h.completer.users))
	}
}

func TestVerifyRejectsForeignToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.loginResult = shopclient.LoginResult{RequiresTwoFactor: true, OTPToken: "T1"}
	if _, err := h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err := h.ctrl.VerifyOTP(ctx, h.scope, "T2", "000000")
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
	if len(h.remote.verifyCalls) != 0 {
		t.Fatalf("remote must not be called with a foreign token")
	}
}

func TestVerifyWithoutPendingOTP(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.VerifyOTP(context.Background(), h.scope, "T1", "000000")
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
}

func TestScenarioTwoFactorThenRequiredLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := domain.User{ID: "u-1", Email: "user@x.com"}
	h.remote.loginResult = shopclient.LoginResult{RequiresTwoFactor: true, OTPToken: "T1"}
	h.remote.verifyResult = shopclient.VerifyResult{User: user, LinkToken: "L1", RequiresLink: true}

	if _, err := h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	res, err := h.ctrl.VerifyOTP(ctx, h.scope, "T1", "000000")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Flow.State != StateDiscordPrompt || !res.Flow.RequiresLink {
		t.Fatalf("expected required link prompt, got %+v", res.Flow)
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("completion must wait for linking")
	}

	res, err = h.ctrl.Connect(ctx, h.scope)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec, err := h.pending.Load(ctx, h.scope)
	if err != nil {
		t.Fatalf("pending load: %v", err)
	}
	if rec.User.ID != "u-1" || rec.LinkToken != "L1" {
		t.Fatalf("unexpected pending record %+v", rec)
	}
	if len(h.remote.connectCalls) != 1 || h.remote.connectCalls[0] != [2]string{"L1", "https://store.example/auth"} {
		t.Fatalf("expected connect url request with L1, got %v", h.remote.connectCalls)
	}
	if res.RedirectURL != "https://discord.example/oauth" {
		t.Fatalf("expected redirect url, got %q", res.RedirectURL)
	}
	if len(h.remote.linkCalls) != 0 {
		t.Fatalf("held link token should be reused")
	}
}

func TestResumeLinkedMergesAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := domain.User{ID: "u-1", Email: "user@x.com"}
	if _, err := h.pending.Save(ctx, h.scope, user, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	cb, ok := ParseCallback(url.Values{
		"discord":         {"linked"},
		"discordId":       {"42"},
		"discordUsername": {"banana"},
		"discordAvatar":   {"av"},
	})
	if !ok {
		t.Fatalf("expected callback to parse")
	}
	res, err := h.ctrl.Resume(ctx, h.scope, OriginAuth, cb, nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(h.completer.users) != 1 {
		t.Fatalf("expected one completion, got %d", len(h.completer.users))
	}
	got := h.completer.users[0]
	if got.DiscordID != "42" || got.DiscordUsername != "banana" || got.DiscordAvatar != "av" || got.DiscordLinkedAt == nil {
		t.Fatalf("discord fields not merged: %+v", got)
	}
	if res.Flow.State != StateComplete {
		t.Fatalf("expected complete, got %s", res.Flow.State)
	}
	if _, err := h.pending.Load(ctx, h.scope); !errors.Is(err, pendinglink.ErrNotFound) {
		t.Fatalf("pending record should be consumed, got %v", err)
	}

	if _, err := h.ctrl.Resume(ctx, h.scope, OriginAuth, cb, nil); !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("replayed callback should mismatch, got %v", err)
	}
	if len(h.completer.users) != 1 {
		t.Fatalf("replay must not complete again")
	}
}

func TestResumeLinkedWithoutPendingRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Resume(context.Background(), h.scope, OriginAuth, Callback{Status: "linked", DiscordID: "42"}, nil)
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
	if apperr.UserMessage(err) != msgLinkExpired {
		t.Fatalf("unexpected message %q", apperr.UserMessage(err))
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("completion must not fire without a pending record")
	}
}

func TestResumeRejectsExpiredPendingRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.pending = pendinglink.NewStore(time.Millisecond)
	h.ctrl = NewController(h.remote, h.pending, h.completer, Options{AuthReturnURL: "https://store.example/auth"})
	if _, err := h.pending.Save(ctx, h.scope, domain.User{ID: "u-1"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	_, err := h.ctrl.Resume(ctx, h.scope, OriginAuth, Callback{Status: "linked"}, nil)
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected state mismatch for stale record, got %v", err)
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("stale record must not complete")
	}
}

func TestResumeDashboardRejectsDifferentAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.pending.Save(ctx, h.scope, domain.User{ID: "u-1", Email: "owner@x.com"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	current := &domain.User{ID: "u-1", Email: "owner@x.com"}
	cb := Callback{Status: "linked", DiscordID: "42", Email: "intruder@x.com"}
	_, err := h.ctrl.Resume(ctx, h.scope, OriginDashboard, cb, current)
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("mismatched link must not be merged")
	}
	if _, err := h.pending.Load(ctx, h.scope); !errors.Is(err, pendinglink.ErrNotFound) {
		t.Fatalf("pending record should be cleared on mismatch, got %v", err)
	}
}

func TestResumeDashboardRejectsDifferentSessionUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.pending.Save(ctx, h.scope, domain.User{ID: "u-1", Email: "owner@x.com"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	current := &domain.User{ID: "u-2", Email: "other@x.com"}
	_, err := h.ctrl.Resume(ctx, h.scope, OriginDashboard, Callback{Status: "linked", DiscordID: "42"}, current)
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
}

func TestResumeDashboardUpdatesSessionUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := domain.User{ID: "u-1", Email: "owner@x.com"}
	if _, err := h.pending.Save(ctx, h.scope, owner, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := h.ctrl.Resume(ctx, h.scope, OriginDashboard, Callback{Status: "linked", DiscordID: "42", Email: "OWNER@x.com"}, &owner)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.User == nil || res.User.DiscordID != "42" {
		t.Fatalf("expected merged user, got %+v", res.User)
	}
	if len(h.completer.users) != 1 {
		t.Fatalf("expected session user update")
	}
}

func TestResumeFailureFormatsMessageAndClearsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.pending.Save(ctx, h.scope, domain.User{ID: "u-1"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := h.ctrl.Resume(ctx, h.scope, OriginAuth, Callback{Status: "error", Message: "access_denied"}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := apperr.UserMessage(err); got != "Discord linking failed: access denied" {
		t.Fatalf("unexpected message %q", got)
	}
	if h.flow(t).Error != "Discord linking failed: access denied" {
		t.Fatalf("expected message on flow")
	}
	if _, err := h.pending.Load(ctx, h.scope); !errors.Is(err, pendinglink.ErrNotFound) {
		t.Fatalf("pending record should be cleared, got %v", err)
	}
}

func TestDismissOptionalLinkCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := domain.User{ID: "u-1", Email: "user@x.com"}
	h.remote.loginResult = shopclient.LoginResult{RequiresTwoFactor: true, OTPToken: "T1"}
	h.remote.verifyResult = shopclient.VerifyResult{User: user, LinkToken: "L1"}

	if _, err := h.ctrl.ConnectFromSignIn(ctx, h.scope, "user@x.com", "pw"); err != nil {
		t.Fatalf("connect from sign-in: %v", err)
	}
	if h.flow(t).State != StateOTPPending {
		t.Fatalf("two-factor must be completed before linking")
	}
	res, err := h.ctrl.VerifyOTP(ctx, h.scope, "", "000000")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Flow.State != StateDiscordPrompt || res.Flow.RequiresLink {
		t.Fatalf("expected optional link prompt, got %+v", res.Flow)
	}
	if len(h.remote.connectCalls) != 0 {
		t.Fatalf("link should be offered, not started")
	}
	res, err = h.ctrl.Dismiss(ctx, h.scope)
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if res.Flow.State != StateComplete || len(h.completer.users) != 1 {
		t.Fatalf("expected completion after dismiss, got %+v", res.Flow)
	}
	if _, err := h.pending.Load(ctx, h.scope); !errors.Is(err, pendinglink.ErrNotFound) {
		t.Fatalf("pending record should be cleared, got %v", err)
	}
}

func TestDismissRequiredLinkAbandonsSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.loginResult = shopclient.LoginResult{RequiresTwoFactor: true, OTPToken: "T1"}
	h.remote.verifyResult = shopclient.VerifyResult{User: domain.User{ID: "u-1"}, LinkToken: "L1", RequiresLink: true}
	if _, err := h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := h.ctrl.VerifyOTP(ctx, h.scope, "", "000000"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res, err := h.ctrl.Dismiss(ctx, h.scope)
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if res.Flow.State != StateCredentials || len(h.completer.users) != 0 {
		t.Fatalf("expected sign-in abandoned, got %+v completions=%d", res.Flow, len(h.completer.users))
	}
}

func TestDismissWaitsForInFlightTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.loginResult = shopclient.LoginResult{RequiresTwoFactor: true, OTPToken: "T1"}
	h.remote.verifyResult = shopclient.VerifyResult{User: domain.User{ID: "u-1"}, LinkToken: "L1"}
	if _, err := h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := h.ctrl.VerifyOTP(ctx, h.scope, "", "000000"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	release, ok, err := h.scope.TryLock(ctx, lockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	_, err = h.ctrl.Dismiss(ctx, h.scope)
	if !apperr.Is(err, apperr.KindStateMismatch) || apperr.UserMessage(err) != msgInProgress {
		t.Fatalf("expected in-progress rejection, got %v", err)
	}
	if len(h.completer.users) != 0 || h.flow(t).State != StateDiscordPrompt {
		t.Fatalf("dismiss must not complete while a transition holds the lock")
	}
	release()

	res, err := h.ctrl.Dismiss(ctx, h.scope)
	if err != nil || res.Flow.State != StateComplete {
		t.Fatalf("expected dismiss to complete once the lock is free, got %+v err=%v", res.Flow, err)
	}
}

func TestLinkedUserSkipsPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := domain.User{ID: "u-1", DiscordID: "42"}
	h.remote.loginResult = shopclient.LoginResult{RequiresTwoFactor: true, OTPToken: "T1"}
	h.remote.verifyResult = shopclient.VerifyResult{User: user, LinkToken: "L1", RequiresLink: true}
	if _, err := h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	res, err := h.ctrl.VerifyOTP(ctx, h.scope, "", "000000")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Flow.State != StateComplete || len(h.completer.users) != 1 {
		t.Fatalf("already-linked user should complete, got %+v", res.Flow)
	}
}

func TestConnectFromSignInAutoConnects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := domain.User{ID: "u-1", Email: "user@x.com"}
	h.remote.loginResult = shopclient.LoginResult{User: &user}
	h.remote.linkToken = "L9"

	res, err := h.ctrl.ConnectFromSignIn(ctx, h.scope, "user@x.com", "pw")
	if err != nil {
		t.Fatalf("connect from sign-in: %v", err)
	}
	if res.RedirectURL == "" || res.Flow.State != StateDiscordPrompt {
		t.Fatalf("expected immediate redirect from prompt, got %+v", res)
	}
	if len(h.remote.linkCalls) != 1 || h.remote.linkCalls[0] != "u-1" {
		t.Fatalf("expected link token fetch for u-1, got %v", h.remote.linkCalls)
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("completion must wait for the link")
	}
}

func TestConnectFromSignInResumesPendingLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.pending.Save(ctx, h.scope, domain.User{ID: "u-1"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := h.ctrl.ConnectFromSignIn(ctx, h.scope, "", "")
	if err != nil {
		t.Fatalf("connect from sign-in: %v", err)
	}
	if res.RedirectURL == "" || len(h.remote.loginCalls) != 0 {
		t.Fatalf("expected redirect without login, got %+v", res)
	}
}

func TestConnectFailureClearsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.connectErr = &shopclient.APIError{Status: 503, Message: "Discord is unavailable"}
	_, err := h.ctrl.StartLink(ctx, h.scope, OriginDashboard, domain.User{ID: "u-1"}, "L1")
	if !apperr.Is(err, apperr.KindRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if h.remote.connectCalls[0][1] != "https://store.example/dashboard" {
		t.Fatalf("dashboard link should return to the dashboard, got %q", h.remote.connectCalls[0][1])
	}
	if _, err := h.pending.Load(ctx, h.scope); !errors.Is(err, pendinglink.ErrNotFound) {
		t.Fatalf("pending record should be cleared, got %v", err)
	}
}

func TestSecondSignInWhileInFlightIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	release, ok, err := h.scope.TryLock(ctx, lockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	defer release()
	_, err = h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false)
	if !apperr.Is(err, apperr.KindStateMismatch) || apperr.UserMessage(err) != msgInProgress {
		t.Fatalf("expected in-progress rejection, got %v", err)
	}
	if len(h.remote.loginCalls) != 0 {
		t.Fatalf("second attempt must not reach the remote")
	}
}

func TestSupersededLoginResponseIsDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := domain.User{ID: "u-1"}
	h.remote.loginResult = shopclient.LoginResult{User: &user}
	h.remote.loginHook = func() {
		if _, err := h.ctrl.Reset(ctx, h.scope); err != nil {
			t.Errorf("reset: %v", err)
		}
	}
	_, err := h.ctrl.Login(ctx, h.scope, "user@x.com", "pw", false)
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected superseded response to be discarded, got %v", err)
	}
	if len(h.completer.users) != 0 {
		t.Fatalf("superseded response must not complete")
	}
	if h.flow(t).State != StateCredentials {
		t.Fatalf("flow should stay on credentials")
	}
}

func TestRegisterCompletesWithoutTwoFactor(t *testing.T) {
	h := newHarness(t)
	h.remote.registerUser = domain.User{ID: "u-7", Email: "new@x.com"}
	res, err := h.ctrl.Register(context.Background(), h.scope, " NEW@x.com", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if h.remote.registerCalls[0] != "new@x.com|pw" {
		t.Fatalf("expected normalized email, got %q", h.remote.registerCalls[0])
	}
	if res.Flow.State != StateComplete || res.Flow.Mode != ModeRegister {
		t.Fatalf("unexpected flow %+v", res.Flow)
	}
}

func TestLoginRemoteErrorStaysOnCredentials(t *testing.T) {
	h := newHarness(t)
	h.remote.loginErr = &shopclient.APIError{Status: 401, Message: "Invalid email or password"}
	_, err := h.ctrl.Login(context.Background(), h.scope, "user@x.com", "bad", false)
	if !apperr.Is(err, apperr.KindRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	flow := h.flow(t)
	if flow.State != StateCredentials || flow.Error != "Invalid email or password" {
		t.Fatalf("unexpected flow %+v", flow)
	}
}

func TestSetModeResetsFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.pending.Save(ctx, h.scope, domain.User{ID: "u-1"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	flow, err := h.ctrl.SetMode(ctx, h.scope, ModeRegister)
	if err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if flow.Mode != ModeRegister || flow.State != StateCredentials || flow.Attempt != 1 {
		t.Fatalf("unexpected flow %+v", flow)
	}
	if _, err := h.pending.Load(ctx, h.scope); !errors.Is(err, pendinglink.ErrNotFound) {
		t.Fatalf("reset should drop the pending link, got %v", err)
	}
}

func TestFailureMessage(t *testing.T) {
	if got := failureMessage(""); got != "Discord linking failed. Please try again." {
		t.Fatalf("unexpected empty message %q", got)
	}
	if got := failureMessage("already-linked"); got != "Discord linking failed: already linked" {
		t.Fatalf("unexpected message %q", got)
	}
	if _, ok := ParseCallback(url.Values{"message": {"x"}}); ok {
		t.Fatalf("query without discord status should not parse")
	}
}
