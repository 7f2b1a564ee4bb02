package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bananastore/pkg/domain"
	"bananastore/services/storefront/internal/apperr"
	"bananastore/services/storefront/internal/cart"
	"bananastore/services/storefront/internal/checkout"
	"bananastore/services/storefront/internal/security"
)

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateItemRequest struct {
	Delta int `json:"delta"`
}

type checkoutRequest struct {
	Method string `json:"method"`
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	products, err := s.catalog.Products(r.Context())
	if err != nil {
		writeAppError(w, r, apperr.Remote("Failed to load products.", 0, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": products, "count": len(products)})
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	scope := sessionScope(r)
	switch r.Method {
	case http.MethodGet:
		c, err := s.carts.Load(r.Context(), scope)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c.Summary())
	case http.MethodDelete:
		if err := s.carts.Clear(r.Context(), scope); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cart.Cart{}.Summary())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 || req.Quantity > cart.MaxQuantity {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("quantity must be between 1 and %d", cart.MaxQuantity))
		return
	}
	product, ok, err := s.catalog.Find(r.Context(), req.ProductID)
	if err != nil {
		writeAppError(w, r, apperr.Remote("Failed to load products.", 0, err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	c, err := s.carts.Update(r.Context(), sessionScope(r), func(c *cart.Cart) error {
		c.Add(product, req.Quantity)
		return nil
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Summary())
}

func (s *Server) handleCartItemByID(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/cart/items/"))
	if err != nil || strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "cart item not found")
		return
	}
	var apply func(c *cart.Cart) bool
	switch r.Method {
	case http.MethodPatch:
		var req updateItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Delta < -cart.MaxQuantity || req.Delta > cart.MaxQuantity {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("delta must be between -%d and %d", cart.MaxQuantity, cart.MaxQuantity))
			return
		}
		apply = func(c *cart.Cart) bool { return c.UpdateQuantity(id, req.Delta) }
	case http.MethodDelete:
		apply = func(c *cart.Cart) bool { return c.Remove(id) }
	default:
		methodNotAllowed(w)
		return
	}
	found := false
	c, err := s.carts.Update(r.Context(), sessionScope(r), func(c *cart.Cart) error {
		found = apply(c)
		return nil
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "cart item not found")
		return
	}
	writeJSON(w, http.StatusOK, c.Summary())
}

func (s *Server) handleCheckoutState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st, err := s.checkout.State(r.Context(), sessionScope(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCheckoutOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	st, err := s.checkout.Open(r.Context(), sessionScope(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCheckoutProceed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	scope := sessionScope(r)
	user, err := s.users.Current(r.Context(), scope)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	st, err := s.checkout.Proceed(r.Context(), scope, user)
	if err != nil {
		writeJSON(w, apperr.HTTPStatus(err), checkoutErrorResponse{Error: apperr.UserMessage(err), State: &st})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type checkoutErrorResponse struct {
	Error string          `json:"error"`
	State *checkout.State `json:"state,omitempty"`
}

// handleCheckout runs a payment. The response arrives after the processing
// phases; the state endpoint shows progress meanwhile.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.checkoutLimiter, "too many checkout attempts") {
		s.audit(r, "checkout.create", security.OutcomeRateLimited)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	scope := sessionScope(r)
	user, err := s.users.Current(r.Context(), scope)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Sign in to continue to checkout.")
		return
	}
	method, _ := domain.ParsePaymentMethod(req.Method)
	res, err := s.checkout.Checkout(r.Context(), scope, *user, method)
	if err != nil {
		s.audit(r, "checkout.create", security.OutcomeFail, "user_id", user.ID, "method", req.Method, "reason", apperr.UserMessage(err))
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, status, checkoutErrorResponse{Error: apperr.UserMessage(err), State: &res.State})
		return
	}
	s.audit(r, "checkout.create", security.OutcomeSuccess, "user_id", user.ID, "method", string(method), "attempt_id", res.State.AttemptID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCheckoutClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.checkout.Close(r.Context(), sessionScope(r)); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckoutAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.users.Current(r.Context(), sessionScope(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	attempts, err := s.checkout.Attempts(r.Context(), user.ID, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": attempts, "count": len(attempts)})
}

// handleCheckoutReturn is where hosted payment pages send the shopper back.
func (s *Server) handleCheckoutReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if _, err := s.checkout.Return(r.Context(), sessionScope(r), status); err != nil {
		s.audit(r, "checkout.return", security.OutcomeFail, "status", status, "reason", apperr.UserMessage(err))
		s.redirectFrontend(w, r, "/")
		return
	}
	s.audit(r, "checkout.return", security.OutcomeSuccess, "status", status)
	if status == "success" {
		s.redirectFrontend(w, r, "/dashboard")
		return
	}
	s.redirectFrontend(w, r, "/")
}
