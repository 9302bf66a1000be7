package api

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// expiryLeeway rejects tokens about to expire, so an SSE stream accepted now
// does not outlive its credential by much.
const expiryLeeway = time.Minute

// Auth validates bearer tokens and yields the subject that partitions board
// ownership. Production tokens are RS256 against a JWKS; test mode swaps in a
// shared HMAC secret so tests can mint tokens locally.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte
}

// NewAuth creates a new Auth instance.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	if os.Getenv("AUTH_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			panic("TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}
	return a
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	tokenStr, err := bearerToken(h)
	if err != nil {
		return "", err
	}

	var token *jwt.Token
	if a.TestMode {
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
		token, err = parser.Parse(tokenStr, func(*jwt.Token) (interface{}, error) {
			return a.TestSecret, nil
		})
	} else {
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
		token, err = parser.Parse(tokenStr, a.JWKS.Keyfunc)
	}
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if !a.TestMode {
		if err := a.verifyClaims(claims); err != nil {
			return "", err
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func bearerToken(h string) (string, error) {
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.Count(token, ".") != 2 {
		return "", errors.New("bad auth header")
	}
	return token, nil
}

// verifyClaims enforces the registered claims beyond the signature. Audience
// and issuer are required whenever they are configured.
func (a *Auth) verifyClaims(claims jwt.MapClaims) error {
	now := time.Now()
	if !claims.VerifyExpiresAt(now.Add(expiryLeeway).Unix(), true) {
		return errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Unix(), false) {
		return errors.New("token not valid yet")
	}
	if !claims.VerifyAudience(a.Audience, a.Audience != "") {
		return errors.New("invalid audience")
	}
	if !claims.VerifyIssuer(a.Issuer, a.Issuer != "") {
		return errors.New("invalid issuer")
	}
	return nil
}
