package checkout

import (
	"time"

	"bananastore/pkg/domain"
)

// Step is the active checkout screen.
type Step string

const (
	StepDetails    Step = "details"
	StepPayment    Step = "payment"
	StepProcessing Step = "processing"
	StepSuccess    Step = "success"
)

// State is the persisted checkout record for one session.
type State struct {
	Step      Step                  `json:"step"`
	Phase     string                `json:"phase,omitempty"`
	Method    domain.PaymentMethod  `json:"method,omitempty"`
	Methods   domain.PaymentMethods `json:"methods"`
	Error     string                `json:"error,omitempty"`
	Order     *domain.Order         `json:"order,omitempty"`
	AttemptID string                `json:"attemptId,omitempty"`
}

func newState() State {
	return State{Step: StepDetails}
}

// Phase is a status line shown while a payment is being created. At is the
// offset from the start of processing.
type Phase struct {
	Label string
	At    time.Duration
}

var DefaultPhases = []Phase{
	{Label: "Verifying Transaction...", At: 0},
	{Label: "Encrypting Order Metadata...", At: 800 * time.Millisecond},
	{Label: "Securing Premium Licenses...", At: 1600 * time.Millisecond},
}

// DefaultPaymentDelay is when the payment call is issued after processing starts.
const DefaultPaymentDelay = 2800 * time.Millisecond

var notConfigured = map[domain.PaymentMethod]string{
	domain.PaymentCard:   "Card payments are not configured yet. Set STRIPE_SECRET_KEY on your API.",
	domain.PaymentPayPal: "PayPal is not configured yet. Set PAYPAL_CHECKOUT_URL on your API.",
	domain.PaymentCrypto: "Crypto checkout is not configured yet. Set OXAPAY_MERCHANT_API_KEY on your API.",
}

// NotConfiguredMessage names the API setting a disabled rail is missing.
func NotConfiguredMessage(method domain.PaymentMethod) string {
	if msg, ok := notConfigured[method]; ok {
		return msg
	}
	return "This payment method is not available."
}

const (
	msgPaymentSessionFailed = "Failed to create payment session."
	msgCardSessionFailed    = "Failed to create card payment session."
	msgCryptoSessionFailed  = "Failed to create OxaPay payment session."
	msgPurchaseFailed       = "Purchase failed."
	msgCartEmpty            = "Your cart is empty."
	msgSignInRequired       = "Sign in to continue to checkout."
	msgChooseMethod         = "Choose a payment method to continue."
	msgUnknownMethod        = "Unsupported payment method."
	msgInProgress           = "A checkout is already in progress."
	msgCancelled            = "Payment was cancelled."
	msgUnknownReturn        = "Unknown checkout status."
)
