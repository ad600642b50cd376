// Package session issues, validates and refreshes signed bearer tokens.
//
// A token is Valid until its expiry, RefreshEligible once its remaining lifetime drops to the
// refresh threshold, and Expired afterwards. The server keeps no per-token state; the only state
// is the RefreshLedger used to rate limit refreshes per subject.
package session

import (
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

const (
	DefaultLifetime         = 30 * time.Minute
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultRefreshWindow    = 2 * time.Minute
)

var (
	// errors
	ErrTokenInvalid       = core.NewError(core.KindTokenInvalid, "invalid token")
	ErrTokenExpired       = core.NewError(core.KindTokenExpired, "token expired")
	ErrNotRefreshEligible = core.NewError(core.KindConflict, "token is not yet eligible for refresh")
	ErrRefreshRateLimited = core.NewError(core.KindRefreshRateLimited, "token was refreshed too recently, try again later")

	signingMethod = jwt.SigningMethodHS256
)

// Claims represents the authorization claims transmitted via a JWT.
// Subject holds the user ID.
type Claims struct {
	jwt.StandardClaims
	Username string    `json:"username"`
	Role     user.Role `json:"role"`
}

// UserID returns the ID held by the Subject claim.
func (c Claims) UserID() int {
	id, _ := strconv.Atoi(c.Subject)
	return id
}

func (c Claims) ExpiresAtTime() time.Time { return time.Unix(c.ExpiresAt, 0).UTC() }

// Status describes a token with a valid signature.
type Status struct {
	Expired         bool          `json:"is_expired"`
	RefreshEligible bool          `json:"should_refresh"`
	Remaining       time.Duration `json:"-"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

type (
	Options struct {
		Secret           []byte
		Issuer           string
		Lifetime         time.Duration
		RefreshThreshold time.Duration
		RefreshWindow    time.Duration
		Clock            core.Clock
		Ledger           RefreshLedger
	}

	Manager struct {
		secret           []byte
		issuer           string
		lifetime         time.Duration
		refreshThreshold time.Duration
		refreshWindow    time.Duration
		clock            core.Clock
		ledger           RefreshLedger
		parser           *jwt.Parser
	}
)

func NewManager(opts Options) *Manager {
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = DefaultRefreshThreshold
	}
	if opts.RefreshWindow <= 0 {
		opts.RefreshWindow = DefaultRefreshWindow
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock
	}
	if opts.Ledger == nil {
		opts.Ledger = NewMemoryLedger(0)
	}
	return &Manager{
		secret:           opts.Secret,
		issuer:           opts.Issuer,
		lifetime:         opts.Lifetime,
		refreshThreshold: opts.RefreshThreshold,
		refreshWindow:    opts.RefreshWindow,
		clock:            opts.Clock,
		ledger:           opts.Ledger,
		// expiry is checked against our own clock
		parser: &jwt.Parser{ValidMethods: []string{signingMethod.Alg()}, SkipClaimsValidation: true},
	}
}

// NewManagerFromConfig returns a Manager configured from conf.Server.
func NewManagerFromConfig(conf *core.Config, ledger RefreshLedger, clock core.Clock) *Manager {
	return NewManager(Options{
		Secret:           []byte(conf.SecretKey),
		Issuer:           conf.AppName,
		Lifetime:         conf.Server.JWTLifetime,
		RefreshThreshold: conf.Server.JWTRefreshThreshold,
		RefreshWindow:    conf.Server.JWTRefreshWindow,
		Clock:            clock,
		Ledger:           ledger,
	})
}

// Issue returns a signed token for usr, valid for the configured lifetime.
func (m *Manager) Issue(usr user.User) (string, error) {
	return m.sign(strconv.Itoa(usr.ID), usr.Username, usr.Role)
}

func (m *Manager) sign(subject, username string, role user.Role) (string, error) {
	now := m.clock()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  now.Unix(),
			ExpiresAt: unixCeil(now.Add(m.lifetime)),
		},
		Username: username,
		Role:     role,
	}
	ss, err := jwt.NewWithClaims(signingMethod, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// unixCeil rounds t up to a whole second, so a token never lives less than its lifetime.
func unixCeil(t time.Time) int64 {
	if t.Truncate(time.Second).Equal(t) {
		return t.Unix()
	}
	return t.Unix() + 1
}

// parse checks the signature & shape of token, not its expiry.
func (m *Manager) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	claims := new(Claims)
	tok, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.ExpiresAt == 0 || claims.UserID() <= 0 || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Validate returns the token's claims if its signature is valid and it has not expired.
func (m *Manager) Validate(token string) (*Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	if !m.clock().Before(claims.ExpiresAtTime()) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// IsRefreshEligible is true iff token is valid and expires within the refresh threshold.
func (m *Manager) IsRefreshEligible(token string) bool {
	claims, err := m.Validate(token)
	if err != nil {
		return false
	}
	return m.eligible(claims)
}

func (m *Manager) eligible(claims *Claims) bool {
	return claims.ExpiresAtTime().Sub(m.clock()) <= m.refreshThreshold
}

// Status describes a token with a valid signature, expired or not.
func (m *Manager) Status(token string) (Status, error) {
	claims, err := m.parse(token)
	if err != nil {
		return Status{}, err
	}
	exp := claims.ExpiresAtTime()
	remaining := exp.Sub(m.clock())
	if remaining <= 0 {
		return Status{Expired: true, ExpiresAt: exp}, nil
	}
	return Status{
		RefreshEligible: remaining <= m.refreshThreshold,
		Remaining:       remaining,
		ExpiresAt:       exp,
	}, nil
}

// Refresh exchanges a refresh-eligible token for a new one with the same subject, username & role.
// A subject may only refresh once per refresh window; the ledger only records successful refreshes.
func (m *Manager) Refresh(token string) (string, error) {
	claims, err := m.Validate(token)
	if err != nil {
		return "", err
	}
	if !m.eligible(claims) {
		return "", ErrNotRefreshEligible
	}

	newToken, err := m.sign(claims.Subject, claims.Username, claims.Role)
	if err != nil {
		return "", err
	}
	if !m.ledger.CheckAndRecord(claims.UserID(), m.clock(), m.refreshWindow) {
		return "", ErrRefreshRateLimited
	}
	return newToken, nil
}
