// Package auth implements the shared-password gate: a password grant
// against the hosted auth service when reachable, a local constant-time
// compare when not, and an in-memory session registry for the HTTP API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrInvalidPassword means the shared password did not match.
var ErrInvalidPassword = errors.New("パスワードが正しくありません")

// Client signs in against a GoTrue-style auth endpoint with the fixed
// shared account.
type Client struct {
	httpClient *resty.Client
	email      string
}

func NewClient(baseURL, email string) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Client-Info", "inventory-management-system").
		SetTimeout(10 * time.Second)

	return &Client{httpClient: rc, email: email}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type apiError struct {
	Msg         string `json:"msg"`
	Description string `json:"error_description"`
}

// SignIn performs the password grant. A 4xx answer maps to
// ErrInvalidPassword; transport failures surface as-is so the caller can
// fall back to the local check.
func (c *Client) SignIn(ctx context.Context, password string) error {
	var ok tokenResponse
	var apiErr apiError

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": c.email, "password": password}).
		SetResult(&ok).
		SetError(&apiErr).
		Post("/token")
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}

	if resp.IsError() {
		if resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized {
			return ErrInvalidPassword
		}
		msg := apiErr.Msg
		if msg == "" {
			msg = apiErr.Description
		}
		return fmt.Errorf("auth service returned %d: %s", resp.StatusCode(), msg)
	}
	if ok.AccessToken == "" {
		return fmt.Errorf("auth service returned no token")
	}
	return nil
}
