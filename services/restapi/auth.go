package restapi

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/console/core/auth"
)

// AuthBackend implements auth.Backend over the backend's /auth endpoints.
type AuthBackend struct {
	client *Client
}

var _ auth.Backend = (*AuthBackend)(nil)

func NewAuthBackend(client *Client) *AuthBackend {
	return &AuthBackend{client: client}
}

func (b *AuthBackend) Login(ctx context.Context, creds auth.Credentials) (auth.LoginResult, error) {
	var res auth.LoginResult
	if err := b.client.Do(ctx, http.MethodPost, "/auth/login", "", creds, &res); err != nil {
		return auth.LoginResult{}, err
	}
	return res, nil
}

func (b *AuthBackend) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	in := map[string]string{"refreshToken": refreshToken}
	var pair auth.TokenPair
	if err := b.client.Do(ctx, http.MethodPost, "/auth/refresh", "", in, &pair); err != nil {
		return auth.TokenPair{}, err
	}
	return pair, nil
}

func (b *AuthBackend) Profile(ctx context.Context, accessToken string) (auth.Profile, error) {
	if accessToken == "" {
		return auth.Profile{}, errors.Wrap(auth.ErrNoAccessToken, "fetching profile")
	}
	var prof auth.Profile
	if err := b.client.Do(ctx, http.MethodGet, "/auth/profile", accessToken, nil, &prof); err != nil {
		return auth.Profile{}, err
	}
	return prof, nil
}

func (b *AuthBackend) Logout(ctx context.Context, accessToken, refreshToken string) error {
	in := map[string]string{"refreshToken": refreshToken}
	return b.client.Do(ctx, http.MethodPost, "/auth/logout", accessToken, in, nil)
}

// Fetch GETs a console data page (attendance, sessions, users, ...) with bearer auth.
func (c *Client) Fetch(ctx context.Context, path, accessToken string) (interface{}, error) {
	var out interface{}
	if err := c.Do(ctx, http.MethodGet, path, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
