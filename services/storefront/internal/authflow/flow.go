package authflow

import (
	"net/url"
	"strings"
	"time"

	"bananastore/pkg/domain"
)

// State is the active step of a sign-in.
type State string

const (
	StateCredentials   State = "credentials"
	StateOTPPending    State = "otp-pending"
	StateDiscordPrompt State = "discord-prompt"
	StateComplete      State = "complete"
)

// Mode toggles the credentials form between sign-in and sign-up.
type Mode string

const (
	ModeLogin    Mode = "login"
	ModeRegister Mode = "register"
)

// ParseMode accepts "login" and "register".
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeLogin:
		return ModeLogin, true
	case ModeRegister:
		return ModeRegister, true
	default:
		return "", false
	}
}

// Flow is the persisted sign-in record for one session. Only the fields of
// the active State are populated.
type Flow struct {
	State            State        `json:"state"`
	Mode             Mode         `json:"mode"`
	OTPToken         string       `json:"otpToken,omitempty"`
	Notice           string       `json:"notice,omitempty"`
	Error            string       `json:"error,omitempty"`
	PromptUser       *domain.User `json:"promptUser,omitempty"`
	RequiresLink     bool         `json:"requiresLink,omitempty"`
	ConnectRequested bool         `json:"connectRequested,omitempty"`
	Attempt          int64        `json:"attempt"`
}

func newFlow() Flow {
	return Flow{State: StateCredentials, Mode: ModeLogin}
}

func (f *Flow) toCredentials() {
	f.State = StateCredentials
	f.OTPToken = ""
	f.Notice = ""
	f.PromptUser = nil
	f.RequiresLink = false
	f.ConnectRequested = false
}

// Origin is the page a Discord consent redirect returns to.
type Origin string

const (
	OriginAuth      Origin = "auth"
	OriginDashboard Origin = "dashboard"
)

const statusLinked = "linked"

// Callback is the query string of a Discord return redirect.
type Callback struct {
	Status          string
	DiscordID       string
	DiscordUsername string
	DiscordAvatar   string
	Email           string
	Message         string
}

// ParseCallback reads the discord return parameters. ok is false when the
// query carries no discord status.
func ParseCallback(q url.Values) (Callback, bool) {
	status := strings.TrimSpace(q.Get("discord"))
	if status == "" {
		return Callback{}, false
	}
	return Callback{
		Status:          strings.ToLower(status),
		DiscordID:       strings.TrimSpace(q.Get("discordId")),
		DiscordUsername: strings.TrimSpace(q.Get("discordUsername")),
		DiscordAvatar:   strings.TrimSpace(q.Get("discordAvatar")),
		Email:           normalizeEmail(q.Get("email")),
		Message:         strings.TrimSpace(q.Get("message")),
	}, true
}

// Linked reports whether the consent screen finished successfully.
func (c Callback) Linked() bool {
	return c.Status == statusLinked
}

func (c Callback) merge(user domain.User, now time.Time) domain.User {
	if c.DiscordID != "" {
		user.DiscordID = c.DiscordID
	}
	if c.DiscordUsername != "" {
		user.DiscordUsername = c.DiscordUsername
	}
	if c.DiscordAvatar != "" {
		user.DiscordAvatar = c.DiscordAvatar
	}
	linkedAt := now.UTC()
	user.DiscordLinkedAt = &linkedAt
	return user
}

func failureMessage(raw string) string {
	msg := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(raw))
	if msg == "" {
		return "Discord linking failed. Please try again."
	}
	return "Discord linking failed: " + msg
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func normalizeCredentials(email, password string) (string, string) {
	return normalizeEmail(email), strings.TrimSpace(password)
}
