package auth

import (
	"context"

	"github.com/trezcool/masomo/console/core/session"
)

type (
	// Backend is the REST collaborator that owns accounts and tokens.
	Backend interface {
		Login(ctx context.Context, creds Credentials) (LoginResult, error)
		Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
		Profile(ctx context.Context, accessToken string) (Profile, error)
		// Logout invalidates refreshToken server-side.
		Logout(ctx context.Context, accessToken, refreshToken string) error
	}

	// Credentials contains information needed to log in.
	Credentials struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	LoginResult struct {
		User         *session.User `json:"user"`
		Token        string        `json:"token"`
		RefreshToken string        `json:"refreshToken"`
		Permissions  []string      `json:"permissions"`
	}

	TokenPair struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken,omitempty"`
	}

	Profile struct {
		User        *session.User `json:"user"`
		Permissions []string      `json:"permissions"`
	}

	// QueryCache holds fetched request state that must not outlive a session.
	QueryCache interface {
		Invalidate(key string)
		Clear()
	}

	// Navigator moves the application to another view.
	Navigator interface {
		Navigate(ctx context.Context, route string)
	}

	// Alerter shows user-visible notifications.
	Alerter interface {
		Success(ctx context.Context, msg string)
		Error(ctx context.Context, msg string)
	}
)

// Views the controller navigates to.
const (
	LandingAuthenticated   = "/dashboard"
	LandingUnauthenticated = "/login"

	// ProfileCacheKey is the QueryCache key under which profile data is kept.
	ProfileCacheKey = "profile"
)
