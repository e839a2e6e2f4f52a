// README: Auth middleware resolves the bearer credential to a rider or driver identity.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rideflow/internal/infra"
	"rideflow/internal/types"
)

var ErrUnauthorized = errors.New("unauthorized")

const identityKey = "rideflow.identity"

// Auth rejects requests without a verifiable credential. The token is read from
// the Authorization header; websocket clients may pass ?token= instead.
func Auth(verifier infra.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c)
			return
		}
		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if t := c.Query("token"); t != "" && websocketRequest(c.Request) {
			return t, true
		}
		return "", false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func websocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"kind":  "unauthorized",
		"error": ErrUnauthorized.Error(),
	})
}

// CallerIdentity returns the identity set by Auth, or the zero value.
func CallerIdentity(c *gin.Context) types.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return types.Identity{}
	}
	id, _ := v.(types.Identity)
	return id
}

func CallerID(c *gin.Context) types.ID {
	return CallerIdentity(c).ID
}

func CallerKind(c *gin.Context) types.ActorKind {
	return CallerIdentity(c).Kind
}
