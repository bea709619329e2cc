// Package api exposes the status query endpoints and the step endpoints the
// orchestration runtime drives. All tenant scoping comes from verified
// bearer claims; request headers naming a tenant are never trusted.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"

	"github.com/praxisworks/actuator/core"
)

const claimsContextKey = "actuator.claims"

// Claims is the verified identity attached to a request. An empty
// AllowedAccounts list means the token is tenant-wide.
type Claims struct {
	Subject         string
	TenantID        string
	AllowedAccounts []string
}

// AccountAllowed reports whether the claims grant access to an account.
func (c *Claims) AccountAllowed(accountID string) bool {
	if len(c.AllowedAccounts) == 0 {
		return true
	}
	for _, a := range c.AllowedAccounts {
		if a == accountID {
			return true
		}
	}
	return false
}

// Verifier validates a bearer token and extracts the claim set.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// OktaVerifier validates access tokens against an Okta authorization server.
type OktaVerifier struct {
	issuer   string
	audience string
	clientID string
}

// NewOktaVerifier creates the verifier from auth configuration.
func NewOktaVerifier(cfg core.AuthConfig) *OktaVerifier {
	return &OktaVerifier{issuer: cfg.Issuer, audience: cfg.Audience, clientID: cfg.ClientID}
}

// Verify checks the token signature and standard claims, then lifts the
// tenant and account claims.
func (v *OktaVerifier) Verify(token string) (*Claims, error) {
	toValidate := map[string]string{"aud": v.audience}
	if v.clientID != "" {
		toValidate["cid"] = v.clientID
	}
	verifierSetup := jwtverifier.JwtVerifier{
		Issuer:           v.issuer,
		ClaimsToValidate: toValidate,
	}
	jwt, err := verifierSetup.New().VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	if sub, ok := jwt.Claims["sub"].(string); ok {
		claims.Subject = sub
	}
	if tenant, ok := jwt.Claims["tenant_id"].(string); ok {
		claims.TenantID = tenant
	}
	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant_id claim")
	}
	if accounts, ok := jwt.Claims["allowed_accounts"].([]interface{}); ok {
		for _, a := range accounts {
			if s, ok := a.(string); ok {
				claims.AllowedAccounts = append(claims.AllowedAccounts, s)
			}
		}
	}
	return claims, nil
}

// authMiddleware verifies the bearer token and stores the claims on the
// request context. Missing tokens are 401, invalid ones 403.
func authMiddleware(verifier Verifier, logger core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		claims, err := verifier.Verify(token)
		if err != nil {
			logger.Warn("Token verification failed", map[string]interface{}{
				"path":  c.FullPath(),
				"error": err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// requestClaims returns the claims the middleware attached.
func requestClaims(c *gin.Context) *Claims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
