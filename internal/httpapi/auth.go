package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"economy_service/internal/economy"
	"economy_service/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/time/rate"
)

const (
	ctxPlayerID = "player_id"
	ctxUsername = "username"

	// devIdentityHeader carries the caller id when no AUTH_SECRET is configured.
	devIdentityHeader = "X-Player-ID"
)

var ErrUnauthenticated = errors.New("missing or invalid credentials")

type Claims struct {
	jwt.Claims
	Username string `json:"username,omitempty"`
}

// Authenticator turns a bearer token into the caller's player id.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) devMode() bool { return len(a.secret) == 0 }

func (a *Authenticator) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrUnauthenticated
	}
	var claims Claims
	if err := tok.Claims(a.secret, &claims); err != nil {
		return nil, ErrUnauthenticated
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: time.Now()}, time.Minute); err != nil {
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(claims.Subject) == "" || !economy.ValidID(claims.Subject) {
		return nil, ErrUnauthenticated
	}
	return &claims, nil
}

// IssueToken signs an HS256 token for subject. Used by ledgerctl and tests.
func IssueToken(secret, subject, username string, ttl time.Duration) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		Claims: jwt.Claims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
	}
	return jwt.Signed(sig).Claims(claims).Serialize()
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// Browsers cannot set headers on a websocket upgrade.
	return c.Query("token")
}

func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.devMode() {
			id := strings.TrimSpace(c.GetHeader(devIdentityHeader))
			if !economy.ValidID(id) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthenticated.Error()})
				return
			}
			c.Set(ctxPlayerID, id)
			c.Next()
			return
		}

		claims, err := a.Verify(bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxPlayerID, claims.Subject)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

func playerID(c *gin.Context) string { return c.GetString(ctxPlayerID) }

// userLimiter holds one token bucket per authenticated player.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newUserLimiter(rps float64, burst int) *userLimiter {
	if burst < 1 {
		burst = 1
	}
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *userLimiter) get(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[id] = lim
	}
	return lim
}

func (l *userLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rps <= 0 {
			c.Next()
			return
		}
		id := playerID(c)
		if !l.get(id).Allow() {
			logger.Log.WithField("player_id", id).Warn("rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
