package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the slice of the identity provider's signed session that the
// core consumes
type Session struct {
	UserID string
	Email  string
	Name   string
	Role   string
}

// ErrInvalidToken means the session token failed verification
var ErrInvalidToken = errors.New("invalid session token")

// ParseSession verifies an HS256 session token issued by the identity
// provider and extracts the session claims
func ParseSession(tokenStr string, secret []byte) (*Session, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, ErrInvalidToken
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)

	return &Session{UserID: userID, Email: email, Name: name, Role: role}, nil
}

// Provider is the client for the external identity provider's OTP exchange.
// The challenge/response protocol itself is the provider's business; the core
// only proxies it and consumes the resulting session token.
type Provider struct {
	baseURL string
	client  *http.Client
}

// NewProvider creates an identity provider client
func NewProvider(baseURL string) *Provider {
	return &Provider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestOTP triggers the provider's async email challenge
func (p *Provider) RequestOTP(ctx context.Context, email string) error {
	body, _ := json.Marshal(map[string]string{"email": email})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/otp", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("otp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("otp request rejected: status=%d", resp.StatusCode)
	}
	return nil
}

// VerifyOTP submits the challenge response and returns the provider's signed
// session token
func (p *Provider) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "code": code})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("otp verification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("otp verification rejected: status=%d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode verification response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("provider returned empty session token")
	}
	return out.Token, nil
}
