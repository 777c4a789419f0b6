package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo/console/core/session"
)

var secretKey = []byte("secret")

type (
	Account struct {
		User        session.User
		Permissions []string
		hash        []byte
	}

	// Backend is an in-process fake of the school REST backend and its websocket.
	Backend struct {
		*httptest.Server
		Echo *echo.Echo

		mu       sync.Mutex
		accounts map[string]*Account // by email
		refresh  map[string]string   // refresh token -> email
		revoked  map[string]bool     // access tokens
		calls    map[string]int      // by "METHOD path"
		status   map[string]int      // forced response status by "METHOD path"
		delays   map[string]time.Duration
		tokenTTL time.Duration
		envelope bool

		upgrader websocket.Upgrader
		sockets  map[*websocket.Conn]bool
	}
)

// NewBackend starts a fake backend; it is closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		Echo:     echo.New(),
		accounts: make(map[string]*Account),
		refresh:  make(map[string]string),
		revoked:  make(map[string]bool),
		calls:    make(map[string]int),
		status:   make(map[string]int),
		delays:   make(map[string]time.Duration),
		tokenTTL: time.Hour,
		sockets:  make(map[*websocket.Conn]bool),
	}
	b.Echo.HideBanner = true
	b.Echo.Use(b.record)

	b.Echo.POST("/auth/login", b.login)
	b.Echo.POST("/auth/refresh", b.refreshTokens)
	b.Echo.GET("/auth/profile", b.profile)
	b.Echo.POST("/auth/logout", b.logout)
	b.Echo.GET("/ws", b.socket)
	for _, path := range []string{"/dashboard", "/attendance", "/sessions", "/users"} {
		b.Echo.GET(path, b.data)
	}

	b.Server = httptest.NewServer(b.Echo)
	t.Cleanup(func() {
		b.CloseSockets()
		b.Server.Close()
	})
	return b
}

// WSURL is the websocket endpoint of the backend.
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.URL, "http") + "/ws"
}

func (b *Backend) AddAccount(t *testing.T, id, name, email, pwd, role string, perms ...string) *Account {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("AddAccount() failed: %v", err)
	}
	acc := &Account{
		User:        session.User{ID: id, Name: name, Email: email, Role: role},
		Permissions: perms,
		hash:        hash,
	}
	b.mu.Lock()
	b.accounts[email] = acc
	b.mu.Unlock()
	return acc
}

// SetPermissions changes what the backend reports for email from now on.
func (b *Backend) SetPermissions(email string, perms ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[email]; ok {
		acc.Permissions = perms
	}
}

// FailWith forces route ("METHOD /path") to answer status. Zero restores normal behaviour.
func (b *Backend) FailWith(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.status, route)
		return
	}
	b.status[route] = status
}

// Delay holds every response of route for d.
func (b *Backend) Delay(route string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays[route] = d
}

// Envelope wraps every successful response in {"data": ...}.
func (b *Backend) Envelope(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelope = on
}

// TokenTTL sets the lifetime of access tokens issued from now on.
func (b *Backend) TokenTTL(ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenTTL = ttl
}

// Calls reports how many requests route ("METHOD /path") received.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// Issue returns a fresh token pair for email, as a login would.
func (b *Backend) Issue(t *testing.T, email string) (access, refresh string) {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()
	access, refresh, err := b.issue(email)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	return access, refresh
}

// AccessToken signs an access token for email expiring after ttl, without a refresh token.
func AccessToken(t *testing.T, email string, ttl time.Duration) string {
	t.Helper()

	token, err := signToken(email, ttl)
	if err != nil {
		t.Fatalf("AccessToken() failed: %v", err)
	}
	return token
}

func signToken(email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Id:        uuid.New().String(),
		Subject:   email,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secretKey)
}

func (b *Backend) issue(email string) (access, refresh string, err error) {
	if access, err = signToken(email, b.tokenTTL); err != nil {
		return "", "", err
	}
	refresh = uuid.New().String()
	b.refresh[refresh] = email
	return access, refresh, nil
}

// authenticate returns the account owning the request's bearer token.
func (b *Backend) authenticate(r *http.Request) *Account {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return nil
	}
	claims := new(jwt.StandardClaims)
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) { return secretKey, nil })
	if err != nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.revoked[token] {
		return nil
	}
	return b.accounts[claims.Subject]
}

func (b *Backend) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := c.Request().Method + " " + c.Request().URL.Path

		b.mu.Lock()
		b.calls[route]++
		status := b.status[route]
		delay := b.delays[route]
		b.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.Request().Context().Done():
			}
		}
		if status != 0 {
			return c.JSON(status, echo.Map{"message": http.StatusText(status)})
		}
		return next(c)
	}
}

func (b *Backend) respond(c echo.Context, v interface{}) error {
	b.mu.Lock()
	envelope := b.envelope
	b.mu.Unlock()

	if envelope {
		return c.JSON(http.StatusOK, echo.Map{"data": v})
	}
	return c.JSON(http.StatusOK, v)
}

func (b *Backend) login(c echo.Context) error {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "malformed request"})
	}

	b.mu.Lock()
	acc, ok := b.accounts[in.Email]
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(in.Password)) != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid email or password"})
	}

	b.mu.Lock()
	access, refresh, err := b.issue(in.Email)
	perms := acc.Permissions
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.respond(c, echo.Map{
		"user":         acc.User,
		"token":        access,
		"refreshToken": refresh,
		"permissions":  perms,
	})
}

func (b *Backend) refreshTokens(c echo.Context) error {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "malformed request"})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	email, ok := b.refresh[in.RefreshToken]
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "refresh token expired"})
	}
	delete(b.refresh, in.RefreshToken)
	access, refresh, err := b.issue(email)
	if err != nil {
		return err
	}
	if b.envelope {
		return c.JSON(http.StatusOK, echo.Map{"data": echo.Map{"token": access, "refreshToken": refresh}})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": access, "refreshToken": refresh})
}

func (b *Backend) profile(c echo.Context) error {
	acc := b.authenticate(c.Request())
	if acc == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "not authenticated"})
	}
	b.mu.Lock()
	perms := acc.Permissions
	b.mu.Unlock()
	return b.respond(c, echo.Map{"user": acc.User, "permissions": perms})
}

func (b *Backend) logout(c echo.Context) error {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.Bind(&in)

	b.mu.Lock()
	delete(b.refresh, in.RefreshToken)
	if token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer "); token != "" {
		b.revoked[token] = true
	}
	b.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (b *Backend) data(c echo.Context) error {
	if b.authenticate(c.Request()) == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "not authenticated"})
	}
	return b.respond(c, echo.Map{"section": c.Request().URL.Path})
}
