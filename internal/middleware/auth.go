// Package middleware содержит HTTP middleware биллингового сервиса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hkhalifa/medledger-system/internal/model"
)

type contextKey string

const actorKey contextKey = "actor"

// AuthMiddleware проверяет подписанный токен сотрудника, выданный сервисом идентификации.
// Токен имеет вид base64(json{id,name,role}) + "." + hex(hmac-sha256).
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

type actorClaims struct {
	ID       string `json:"id"`
	FullName string `json:"name"`
	Role     string `json:"role"`
}

// Middleware проверяет токен из заголовка Authorization и кладёт сотрудника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actor, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken формирует подписанный токен для указанного сотрудника.
// Используется сервисом идентификации и тестами.
func (a *AuthMiddleware) IssueToken(actor model.Actor) string {
	payload, _ := json.Marshal(actorClaims{
		ID:       actor.ID,
		FullName: actor.FullName,
		Role:     actor.Role,
	})
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + a.sign(encoded)
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (model.Actor, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return model.Actor{}, false
	}

	if !hmac.Equal([]byte(parts[1]), []byte(a.sign(parts[0]))) {
		return model.Actor{}, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return model.Actor{}, false
	}

	var claims actorClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return model.Actor{}, false
	}
	if claims.ID == "" {
		return model.Actor{}, false
	}

	return model.Actor{ID: claims.ID, FullName: claims.FullName, Role: claims.Role}, true
}

// GetActorFromContext извлекает сотрудника из контекста запроса.
func GetActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}
