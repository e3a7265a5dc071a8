package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ErrTokenInvalid is returned for a token that fails signature, expiry or
// issuer checks.
var ErrTokenInvalid = errors.New("api: invalid token")

// Claims are the JWT claims accepted by the admin API.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken mints an HS256 access token for subject, valid for the
// configured TTL.
func IssueToken(cfg config.JWTConfig, subject string) (string, time.Time, error) {
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 60 //nolint:mnd // default one-hour admin token
	}
	now := time.Now()
	expires := now.Add(time.Duration(ttl) * time.Minute)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates an access token and returns its claims.
func ParseToken(raw string, cfg config.JWTConfig) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// subject returns the authenticated subject of a request, if any.
func subject(r *http.Request) string {
	if c, ok := r.Context().Value(ctxKeyClaims).(*Claims); ok {
		return c.Subject
	}
	return ""
}

// ticketStore holds pending single-use WebSocket tickets.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]time.Time // ticket -> expiry
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

// issue creates a ticket valid for ticketTTL.
func (ts *ticketStore) issue() string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = time.Now().Add(ticketTTL)
	ts.mu.Unlock()
	return ticket
}

// consume reports whether ticket is valid and removes it.
func (ts *ticketStore) consume(ticket string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	expires, ok := ts.tickets[ticket]
	if !ok {
		return false
	}
	delete(ts.tickets, ticket)
	return time.Now().Before(expires)
}

// clean removes expired tickets.
func (ts *ticketStore) clean(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for ticket, expires := range ts.tickets {
		if now.After(expires) {
			delete(ts.tickets, ticket)
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop removes expired tickets until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.clean(now)
		}
	}
}
