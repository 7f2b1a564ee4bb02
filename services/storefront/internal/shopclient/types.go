package shopclient

import "bananastore/pkg/domain"

type LoginResult struct {
	User              *domain.User `json:"user,omitempty"`
	RequiresTwoFactor bool         `json:"requiresTwoFactor"`
	OTPToken          string       `json:"otpToken,omitempty"`
	Message           string       `json:"message,omitempty"`
}

type VerifyResult struct {
	User         domain.User `json:"user"`
	LinkToken    string      `json:"linkToken,omitempty"`
	RequiresLink bool        `json:"requiresLink"`
	Message      string      `json:"message,omitempty"`
}

type PaymentRequest struct {
	Order      domain.Order         `json:"order"`
	User       domain.User          `json:"user"`
	Method     domain.PaymentMethod `json:"method"`
	SuccessURL string               `json:"successUrl"`
	CancelURL  string               `json:"cancelUrl"`
	AttemptID  string               `json:"attemptId,omitempty"`
}

type PaymentSession struct {
	OK          bool   `json:"ok"`
	CheckoutURL string `json:"checkoutUrl,omitempty"`
	Manual      bool   `json:"manual"`
	Message     string `json:"message,omitempty"`
}

type BuyRequest struct {
	Order     domain.Order         `json:"order"`
	User      domain.User          `json:"user"`
	Method    domain.PaymentMethod `json:"paymentMethod"`
	Verified  bool                 `json:"paymentVerified"`
	AttemptID string               `json:"attemptId,omitempty"`
}

type BuyResult struct {
	OK       bool             `json:"ok"`
	Order    *domain.Order    `json:"order,omitempty"`
	Products []domain.Product `json:"products,omitempty"`
	Message  string           `json:"message,omitempty"`
}

type OrderFilter struct {
	UserID string
	Status domain.OrderStatus
}

type userResponse struct {
	User domain.User `json:"user"`
}
