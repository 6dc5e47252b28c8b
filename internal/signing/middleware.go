package signing

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyCaller is the key for storing the authenticated caller address
	ContextKeyCaller = "authCaller"

	// HeaderCaller carries the claimed caller address
	HeaderCaller = "X-Caller"
	// HeaderNonce carries the request nonce
	HeaderNonce = "X-Nonce"
	// HeaderTimestamp carries the unix timestamp the request was signed at
	HeaderTimestamp = "X-Timestamp"
	// HeaderSignature carries the hex-encoded EIP-191 signature
	HeaderSignature = "X-Signature"

	// MaxClockSkew bounds how stale a signed request may be
	MaxClockSkew = 5 * time.Minute
)

// replayGuard tracks the highest nonce seen per caller. Signed nonces must
// strictly increase, so a captured request cannot authenticate a second time
// even inside the clock-skew window. Nonces are recorded only after the
// signature verifies; unverified requests cannot burn a caller's nonces.
type replayGuard struct {
	mu   sync.Mutex
	last map[string]uint64
}

func newReplayGuard() *replayGuard {
	return &replayGuard{last: make(map[string]uint64)}
}

// use records the nonce for caller if it is newer than any seen before.
func (g *replayGuard) use(caller string, nonce uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if nonce <= g.last[caller] {
		return false
	}
	g.last[caller] = nonce
	return true
}

// Middleware verifies the wallet signature on each request and stores the
// recovered caller address in the gin context. Requests without signature
// headers pass through unauthenticated; use RequireAuth to reject them.
// Each caller's nonce must strictly increase across requests; a replayed
// signature never authenticates twice.
//
// When disabled is true (development only), the X-Caller header is trusted
// without verification.
func Middleware(disabled bool) gin.HandlerFunc {
	nonces := newReplayGuard()
	return func(c *gin.Context) {
		caller := strings.ToLower(c.GetHeader(HeaderCaller))
		if caller == "" {
			c.Next()
			return
		}

		if disabled {
			c.Set(ContextKeyCaller, caller)
			c.Next()
			return
		}

		sig := c.GetHeader(HeaderSignature)
		nonceStr := c.GetHeader(HeaderNonce)
		tsStr := c.GetHeader(HeaderTimestamp)
		if sig == "" || nonceStr == "" || tsStr == "" {
			c.Next()
			return
		}

		nonce, err := strconv.ParseUint(nonceStr, 10, 64)
		if err != nil {
			c.Next()
			return
		}
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			c.Next()
			return
		}

		age := time.Since(time.Unix(ts, 0))
		if age > MaxClockSkew || age < -MaxClockSkew {
			c.Next()
			return
		}

		message := CreateRequestMessage(c.Request.Method, c.Request.URL.Path, nonce, ts)
		if err := VerifySignature(message, sig, caller); err != nil {
			c.Next()
			return
		}
		if !nonces.use(caller, nonce) {
			c.Next()
			return
		}

		c.Set(ContextKeyCaller, caller)
		c.Next()
	}
}

// RequireAuth rejects requests without a verified caller
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyCaller); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Signed request required. Include X-Caller, X-Nonce, X-Timestamp, and X-Signature headers.",
			})
			return
		}
		c.Next()
	}
}

// RequireSelf requires auth AND that the caller matches the :address param
func RequireSelf(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := AuthenticatedCaller(c)
		if caller == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Signed request required.",
			})
			return
		}

		target := strings.ToLower(c.Param(paramName))
		if !strings.EqualFold(caller, target) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Caller does not match the requested address.",
			})
			return
		}

		c.Next()
	}
}

// AuthenticatedCaller returns the verified caller's address, or "" if unauthenticated
func AuthenticatedCaller(c *gin.Context) string {
	addr, exists := c.Get(ContextKeyCaller)
	if !exists {
		return ""
	}
	return addr.(string)
}

// IsAuthenticated checks if the request carries a verified caller
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyCaller)
	return exists
}
