package shopclient

import (
	"context"
	"errors"
	"net"

	"bananastore/services/storefront/internal/apperr"
)

const timeoutMessage = "The shop is taking too long to respond. Please try again."

// AsRemote classifies a client error as an apperr remote error. The API's own
// message is kept when present; transport failures use fallback.
func AsRemote(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fallback
		}
		return apperr.Remote(msg, apiErr.Status, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Remote(timeoutMessage, 0, err)
	}
	return apperr.Remote(fallback, 0, err)
}
