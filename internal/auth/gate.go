package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
)

// Gate verifies the shared password. The remote auth service is asked
// first; when it is unreachable the configured local password takes over
// so the team can still log in offline.
type Gate struct {
	client *Client
	shared string
	log    *slog.Logger
}

func NewGate(client *Client, sharedPassword string, log *slog.Logger) *Gate {
	return &Gate{client: client, shared: sharedPassword, log: log}
}

func (g *Gate) Verify(ctx context.Context, password string) error {
	if g.client != nil {
		err := g.client.SignIn(ctx, password)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidPassword) {
			return ErrInvalidPassword
		}
		g.log.Warn("auth service unreachable, using local password check", "err", err)
	}
	if g.shared != "" && subtle.ConstantTimeCompare([]byte(password), []byte(g.shared)) == 1 {
		return nil
	}
	return ErrInvalidPassword
}
