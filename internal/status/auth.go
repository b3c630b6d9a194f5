package status

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"signalbot/internal/config"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer       = "signalbot"
	defaultTokenTTL   = 12 * time.Hour
	maxLoginAttempts  = 5
	loginWindow       = time.Minute
	maxPasswordLength = 128
)

var (
	ErrAuthDisabled  = errors.New("авторизация не настроена")
	ErrBadPassword   = errors.New("неверный пароль")
	ErrInvalidToken  = errors.New("недействительный или просроченный токен")
	ErrTooManyLogins = errors.New("слишком много попыток входа")
)

// Auth issues and checks HS256 tokens for the operator. Without a password
// hash every protected route answers 401.
type Auth struct {
	secret       []byte
	passwordHash []byte
	ttl          time.Duration
	now          func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func NewAuth(cfg config.StatusConfig) *Auth {
	a := &Auth{
		secret:       []byte(cfg.AuthSecret),
		passwordHash: []byte(cfg.PasswordHash),
		ttl:          cfg.TokenTTL,
		now:          time.Now,
		attempts:     map[string][]time.Time{},
	}
	if a.ttl <= 0 {
		a.ttl = defaultTokenTTL
	}
	if len(a.secret) == 0 {
		// tokens do not survive a restart
		a.secret = make([]byte, 32)
		_, _ = rand.Read(a.secret)
	}
	return a
}

func (a *Auth) Enabled() bool {
	return len(a.passwordHash) > 0
}

// Login checks the password against the bcrypt hash and returns a signed
// token. Attempts are limited per client address.
func (a *Auth) Login(client, password string) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	if !a.allowAttempt(client) {
		return "", ErrTooManyLogins
	}
	if len(password) > maxPasswordLength {
		return "", ErrBadPassword
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", ErrBadPassword
	}
	return a.issue()
}

func (a *Auth) issue() (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("подпись токена: %w", err)
	}
	return signed, nil
}

func (a *Auth) Validate(raw string) error {
	if !a.Enabled() || raw == "" {
		return ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (a *Auth) allowAttempt(client string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	recent := a.attempts[client][:0]
	for _, at := range a.attempts[client] {
		if now.Sub(at) < loginWindow {
			recent = append(recent, at)
		}
	}
	if len(recent) >= maxLoginAttempts {
		a.attempts[client] = recent
		return false
	}
	a.attempts[client] = append(recent, now)
	return true
}

// middleware accepts "Authorization: Bearer <token>" or, for websocket
// upgrades from a browser, a token query parameter.
func (a *Auth) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				unauthorized(c, "неверный формат заголовка Authorization")
				return
			}
			raw = parts[1]
		}
		if err := a.Validate(raw); err != nil {
			unauthorized(c, err.Error())
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
