package devserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 12 * time.Hour

// userRecord is one seeded dev account.
type userRecord struct {
	ID           int64
	Nickname     string
	PasswordHash []byte
}

// Auth issues and verifies the HS256 tokens the client's handshake
// consumes. Accounts are seeded in memory; this is a development stub, not
// the production auth service.
type Auth struct {
	secret []byte

	mu     sync.RWMutex
	users  map[string]*userRecord
	nextID int64
}

func NewAuth(secret string) *Auth {
	a := &Auth{
		secret: []byte(secret),
		users:  make(map[string]*userRecord),
		nextID: 1,
	}
	// Default dev accounts.
	a.seed("alice", "password")
	a.seed("bob", "password")
	return a
}

func (a *Auth) seed(nickname, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	a.mu.Lock()
	a.users[nickname] = &userRecord{ID: a.nextID, Nickname: nickname, PasswordHash: hash}
	a.nextID++
	a.mu.Unlock()
}

// UserID returns the stable numeric id for a nickname, registering unknown
// nicknames on first sight.
func (a *Auth) UserID(nickname string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u, ok := a.users[nickname]; ok {
		return u.ID
	}
	id := a.nextID
	a.nextID++
	a.users[nickname] = &userRecord{ID: id, Nickname: nickname}
	return id
}

// Login checks credentials and returns a signed token.
func (a *Auth) Login(nickname, password string) (string, error) {
	a.mu.RLock()
	user, ok := a.users[nickname]
	a.mu.RUnlock()
	if !ok || user.PasswordHash == nil {
		return "", jwt.ErrTokenUnverifiable
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   nickname,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses a bearer token and returns the subject nickname.
func (a *Auth) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

const ctxNickname = "nickname"

// Middleware authenticates REST requests and stores the nickname on the
// gin context.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		nickname, err := a.Verify(extractBearer(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Set(ctxNickname, nickname)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
