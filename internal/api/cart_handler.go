package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/digistore/storefront/internal/cart"
	"github.com/digistore/storefront/internal/catalog"
	"github.com/digistore/storefront/internal/domain"
	"github.com/digistore/storefront/internal/repository"
	"github.com/digistore/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type CartHandler struct {
	service *service.CartService
}

func NewCartHandler(service *service.CartService) *CartHandler {
	return &CartHandler{service: service}
}

type AddItemRequestDTO struct {
	ProductID int64  `json:"product_id"`
	License   string `json:"license"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int    `json:"quantity"`
	License  string `json:"license"`
}

type ApplyCouponRequestDTO struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

type FirstTimeCheckRequestDTO struct {
	Email string `json:"email"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CartView is the cart plus its derived totals, recomputed per response.
type CartView struct {
	UserID             string            `json:"user_id"`
	Items              []domain.CartItem `json:"items"`
	Coupon             *domain.Coupon    `json:"coupon,omitempty"`
	Subtotal           float64           `json:"subtotal"`
	Discount           float64           `json:"discount"`
	Total              float64           `json:"total"`
	IsValidatingCoupon bool              `json:"is_validating_coupon"`
	OpenUI             bool              `json:"open_ui"`
}

func (h *CartHandler) view(c *domain.Cart) *CartView {
	return &CartView{
		UserID:             c.UserID,
		Items:              c.Items,
		Coupon:             c.Coupon,
		Subtotal:           cart.Subtotal(c),
		Discount:           cart.Discount(c),
		Total:              cart.Total(c),
		IsValidatingCoupon: h.service.IsValidatingCoupon(c.UserID),
		OpenUI:             c.OpenUI,
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	c, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(c))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	license := domain.License(req.License)
	if req.License == "" {
		license = domain.LicensePersonal
	} else if !license.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_license", "license must be personal, commercial or extended")
		return
	}

	c, err := h.service.AddItem(r.Context(), userID, req.ProductID, license)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.view(c))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	license := domain.License(req.License)
	if req.License == "" {
		license = domain.LicensePersonal
	} else if !license.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_license", "license must be personal, commercial or extended")
		return
	}

	c, err := h.service.UpdateQuantity(r.Context(), userID, productID, license, req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(c))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	license := domain.License(r.URL.Query().Get("license"))
	if license == "" {
		license = domain.LicensePersonal
	} else if !license.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_license", "license must be personal, commercial or extended")
		return
	}

	c, err := h.service.RemoveItem(r.Context(), userID, productID, license)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(c))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	if err := h.service.ClearCart(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(&domain.Cart{UserID: userID}))
}

// ApplyCoupon runs the backend-validated path; the service degrades to
// local validation when the backend is unreachable. Failures come back as
// 200s with success=false so the UI can show the toast message.
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req ApplyCouponRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid_code", "code is required")
		return
	}

	result, err := h.service.ApplyCouponAsync(r.Context(), userID, req.Code, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	c, err := h.service.RemoveCoupon(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(c))
}

func (h *CartHandler) CheckFirstTimeBuyer(w http.ResponseWriter, r *http.Request) {
	userID := sessionID(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req FirstTimeCheckRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	firstTime, err := h.service.CheckFirstTimeBuyer(r.Context(), userID, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"first_time": firstTime})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "product not found")
	case errors.Is(err, repository.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "not_found", "cart item not found")
	default:
		log.Error().Err(err).Msg("internal error")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
