// Package backend is the HTTP/JSON client for the external commerce API.
// It owns coupon validation and the first-time-buyer check; callers treat
// any transport-level failure (including an open circuit) as a signal to
// fall back to local validation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/digistore/storefront/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable wraps transport errors, 5xx responses and breaker-open
// states so callers can distinguish "backend said no" from "backend is down".
var ErrUnavailable = errors.New("backend unavailable")

// CouponValidation is the response of POST /coupons/validate.
type CouponValidation struct {
	Valid          bool                `json:"valid"`
	Code           string              `json:"code"`
	Discount       float64             `json:"discount"`
	Type           domain.DiscountType `json:"type"`
	DiscountAmount float64             `json:"discountAmount"`
	Message        string              `json:"message"`
}

type firstTimeResponse struct {
	FirstTime bool `json:"firstTime"`
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(baseURL string) *Client {
	settings := gobreaker.Settings{
		Name:    "commerce-backend",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// ValidateCoupon delegates coupon validation to the backend, passing the
// current subtotal and optional email. A nil error with Valid=false is a
// definitive rejection; ErrUnavailable means the caller should validate
// locally instead.
func (c *Client) ValidateCoupon(ctx context.Context, code string, subtotal float64, email string) (*CouponValidation, error) {
	payload := map[string]any{
		"code":     code,
		"subtotal": subtotal,
	}
	if email != "" {
		payload["email"] = email
	}

	body, err := c.post(ctx, "/coupons/validate", payload)
	if err != nil {
		return nil, err
	}

	var result CouponValidation
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode coupon validation: %v", ErrUnavailable, err)
	}
	return &result, nil
}

// CheckFirstTimeBuyer asks the backend whether the buyer has ordered before.
func (c *Client) CheckFirstTimeBuyer(ctx context.Context, email string) (bool, error) {
	payload := map[string]any{"email": email}

	body, err := c.post(ctx, "/customers/first-time", payload)
	if err != nil {
		return false, err
	}

	var result firstTimeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("%w: decode first-time check: %v", ErrUnavailable, err)
	}
	return result.FirstTime, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("backend returned %d", resp.StatusCode)
		}

		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, nil
}
