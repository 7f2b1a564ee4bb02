package domain

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is the storefront's display copy of an account. The shop API owns the
// authoritative record.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Role            UserRole   `json:"role"`
	CreatedAt       time.Time  `json:"createdAt"`
	DiscordID       string     `json:"discordId,omitempty"`
	DiscordUsername string     `json:"discordUsername,omitempty"`
	DiscordAvatar   string     `json:"discordAvatar,omitempty"`
	DiscordLinkedAt *time.Time `json:"discordLinkedAt,omitempty"`
}

// HasDiscord reports whether a Discord account is linked.
func (u User) HasDiscord() bool {
	return strings.TrimSpace(u.DiscordID) != ""
}

type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Image       string   `json:"image,omitempty"`
	Price       float64  `json:"price"`
	Duration    string   `json:"duration,omitempty"`
	Stock       int      `json:"stock"`
	Features    []string `json:"features,omitempty"`
	Description string   `json:"description,omitempty"`
}

type CartItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Image    string  `json:"image,omitempty"`
	Price    float64 `json:"price"`
	Duration string  `json:"duration,omitempty"`
	Quantity int     `json:"quantity"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

type Order struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Items       []CartItem        `json:"items"`
	Total       float64           `json:"total"`
	Status      OrderStatus       `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "card"
	PaymentPayPal PaymentMethod = "paypal"
	PaymentCrypto PaymentMethod = "crypto"
)

// ParsePaymentMethod accepts the three supported rails, case-insensitively.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentCard:
		return PaymentCard, true
	case PaymentPayPal:
		return PaymentPayPal, true
	case PaymentCrypto:
		return PaymentCrypto, true
	default:
		return "", false
	}
}

type RailStatus struct {
	Enabled   bool `json:"enabled"`
	Automated bool `json:"automated"`
}

// PaymentMethods is the availability of each payment rail. The zero value has
// every rail disabled.
type PaymentMethods struct {
	Card   RailStatus `json:"card"`
	PayPal RailStatus `json:"paypal"`
	Crypto RailStatus `json:"crypto"`
}

// Rail returns the status of one payment rail.
func (m PaymentMethods) Rail(method PaymentMethod) RailStatus {
	switch method {
	case PaymentCard:
		return m.Card
	case PaymentPayPal:
		return m.PayPal
	case PaymentCrypto:
		return m.Crypto
	default:
		return RailStatus{}
	}
}

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type AttemptStatus string

const (
	AttemptStarted    AttemptStatus = "started"
	AttemptRedirected AttemptStatus = "redirected"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptFailed     AttemptStatus = "failed"
	AttemptCancelled  AttemptStatus = "cancelled"
)

// CheckoutAttempt records one payment initiation. ID doubles as the
// idempotency key sent to the shop API.
type CheckoutAttempt struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	OrderID     string        `json:"orderId"`
	Method      PaymentMethod `json:"method"`
	Status      AttemptStatus `json:"status"`
	Total       string        `json:"total"`
	Items       []CartItem    `json:"items"`
	CheckoutURL string        `json:"checkoutUrl,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
