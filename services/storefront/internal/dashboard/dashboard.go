package dashboard

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
	"bananastore/services/storefront/internal/authflow"
	"bananastore/services/storefront/internal/shopclient"
)

const (
	lockKey        = "dashboard-unlink"
	noticeKey      = "dashboard-notice"
	defaultLockTTL = 30 * time.Second
	noticeTTL      = 10 * time.Minute
)

const (
	msgSignIn          = "Sign in to view your dashboard."
	msgSessionChanged  = "Your session changed. Please reload the dashboard."
	msgNotLinked       = "No Discord account is linked."
	msgUnlinkBusy      = "Discord unlink is already in progress."
	msgUnlinkFailed    = "Failed to unlink Discord"
	msgAlreadyLinked   = "Discord is already connected."
	msgNoCredential    = "No credential found for this item. Contact support with order ID `%s`."
	msgUnknownItem     = "Order item not found."
	statusConnected    = "Connected Discord"
	statusNotConnected = "Discord Not Connected"
)

type Remote interface {
	Orders(ctx context.Context, filter shopclient.OrderFilter) ([]domain.Order, error)
	Unlink(ctx context.Context, userID, email string) (domain.User, error)
}

// Sessions reads and replaces the signed-in user.
type Sessions interface {
	Current(ctx context.Context, scope kv.Scope) (*domain.User, error)
	Set(ctx context.Context, scope kv.Scope, user domain.User) error
}

// Linker starts a Discord link for an already signed-in user.
type Linker interface {
	StartLink(ctx context.Context, scope kv.Scope, origin authflow.Origin, user domain.User, linkToken string) (string, error)
}

type Item struct {
	domain.CartItem
	HasCredential bool   `json:"hasCredential"`
	Credential    string `json:"credential,omitempty"`
	Missing       string `json:"missing,omitempty"`
}

type OrderView struct {
	ID        string             `json:"id"`
	Status    domain.OrderStatus `json:"status"`
	Total     float64            `json:"total"`
	CreatedAt time.Time          `json:"createdAt"`
	Items     []Item             `json:"items"`
}

type Discord struct {
	Linked bool   `json:"linked"`
	Label  string `json:"label"`
	Status string `json:"status"`
	Avatar string `json:"avatar,omitempty"`
}

type View struct {
	User    domain.User `json:"user"`
	Discord Discord     `json:"discord"`
	Orders  []OrderView `json:"orders"`
	Notice  string      `json:"notice,omitempty"`
}

type Loader struct {
	remote   Remote
	sessions Sessions
	linker   Linker
	notice   kv.Value[string]
	lockTTL  time.Duration
}

func NewLoader(remote Remote, sessions Sessions, linker Linker) *Loader {
	return &Loader{
		remote:   remote,
		sessions: sessions,
		linker:   linker,
		notice:   kv.NewValue[string](noticeKey, noticeTTL),
		lockTTL:  defaultLockTTL,
	}
}

// Notify stores a one-shot message shown by the next Load, typically a
// Discord callback failure.
func (l *Loader) Notify(ctx context.Context, scope kv.Scope, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}
	return l.notice.Set(ctx, scope, msg)
}

func (l *Loader) signedIn(ctx context.Context, scope kv.Scope) (domain.User, error) {
	user, err := l.sessions.Current(ctx, scope)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, apperr.StateMismatch(msgSignIn)
	}
	return *user, nil
}

// Load fetches the completed orders of the session user. A failed fetch
// shows an empty vault. The result is dropped when the request was
// cancelled or the session switched users while the fetch was running.
func (l *Loader) Load(ctx context.Context, scope kv.Scope) (View, error) {
	view, err := l.load(ctx, scope)
	if err != nil {
		return View{}, err
	}
	notice, ok, err := l.notice.Get(ctx, scope)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("dashboard notice read failed", "err", err)
	}
	if ok {
		view.Notice = notice
		if err := l.notice.Clear(ctx, scope); err != nil {
			util.LoggerFromContext(ctx).Warn("dashboard notice clear failed", "err", err)
		}
	}
	return view, nil
}

func (l *Loader) load(ctx context.Context, scope kv.Scope) (View, error) {
	user, err := l.signedIn(ctx, scope)
	if err != nil {
		return View{}, err
	}
	orders, err := l.remote.Orders(ctx, shopclient.OrderFilter{UserID: user.ID, Status: domain.OrderCompleted})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return View{}, ctxErr
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("dashboard orders fetch failed", "user_id", user.ID, "err", err)
		orders = nil
	}
	after, err := l.sessions.Current(ctx, scope)
	if err != nil {
		return View{}, err
	}
	if after == nil || after.ID != user.ID {
		return View{}, apperr.StateMismatch(msgSessionChanged)
	}
	return View{User: *after, Discord: DiscordOf(*after), Orders: Views(orders)}, nil
}

// Credential returns the credential issued for one item of a completed order.
func (l *Loader) Credential(ctx context.Context, scope kv.Scope, orderID, itemID string) (string, error) {
	view, err := l.load(ctx, scope)
	if err != nil {
		return "", err
	}
	for _, order := range view.Orders {
		if order.ID != orderID {
			continue
		}
		for _, item := range order.Items {
			if item.ID != itemID {
				continue
			}
			if !item.HasCredential {
				return "", apperr.Validation(item.Missing)
			}
			return item.Credential, nil
		}
	}
	return "", apperr.Validation(msgUnknownItem)
}

// Unlink disconnects Discord from the session user and stores the updated
// account.
func (l *Loader) Unlink(ctx context.Context, scope kv.Scope) (domain.User, error) {
	user, err := l.signedIn(ctx, scope)
	if err != nil {
		return domain.User{}, err
	}
	if !user.HasDiscord() {
		return domain.User{}, apperr.Validation(msgNotLinked)
	}
	release, ok, err := scope.TryLock(ctx, lockKey, l.lockTTL)
	if err != nil {
		return domain.User{}, fmt.Errorf("unlink lock: %w", err)
	}
	if !ok {
		return domain.User{}, apperr.StateMismatch(msgUnlinkBusy)
	}
	defer release()

	updated, err := l.remote.Unlink(ctx, user.ID, user.Email)
	if err != nil {
		return domain.User{}, shopclient.AsRemote(err, msgUnlinkFailed)
	}
	if strings.TrimSpace(updated.ID) == "" {
		return domain.User{}, apperr.Remote(msgUnlinkFailed, 0, errors.New("unlink returned no user"))
	}
	if err := l.sessions.Set(ctx, scope, updated); err != nil {
		return domain.User{}, err
	}
	return updated, nil
}

// Connect starts a Discord link from the dashboard and returns the consent
// URL.
func (l *Loader) Connect(ctx context.Context, scope kv.Scope) (string, error) {
	user, err := l.signedIn(ctx, scope)
	if err != nil {
		return "", err
	}
	if user.HasDiscord() {
		return "", apperr.Validation(msgAlreadyLinked)
	}
	return l.linker.StartLink(ctx, scope, authflow.OriginDashboard, user, "")
}

// DiscordOf describes the link state of user.
func DiscordOf(user domain.User) Discord {
	if !user.HasDiscord() {
		return Discord{Status: statusNotConnected}
	}
	label := strings.TrimSpace(user.DiscordUsername)
	if label == "" {
		label = "Discord " + strings.TrimSpace(user.DiscordID)
	}
	return Discord{
		Linked: true,
		Label:  label,
		Status: statusConnected + ": " + label,
		Avatar: user.DiscordAvatar,
	}
}

// Views maps orders to their display form.
func Views(orders []domain.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		view := OrderView{
			ID:        order.ID,
			Status:    order.Status,
			Total:     order.Total,
			CreatedAt: order.CreatedAt,
			Items:     make([]Item, 0, len(order.Items)),
		}
		for _, ci := range order.Items {
			item := Item{CartItem: ci}
			if cred := order.Credentials[ci.ID]; cred != "" {
				item.HasCredential = true
				item.Credential = cred
			} else {
				item.Missing = fmt.Sprintf(msgNoCredential, order.ID)
			}
			view.Items = append(view.Items, item)
		}
		out = append(out, view)
	}
	return out
}
