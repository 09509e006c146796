package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/axonops/axonops-auth-service/internal/config"
)

// JWTProvider verifies operator tokens for the /admin endpoints.
type JWTProvider struct {
	config config.JWTConfig
	key    any // []byte for HMAC, *rsa.PublicKey or *ecdsa.PublicKey otherwise
}

// NewJWTProvider creates a JWT provider from configuration. A disabled
// provider passes every request through.
func NewJWTProvider(cfg config.JWTConfig) (*JWTProvider, error) {
	p := &JWTProvider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	switch {
	case strings.HasPrefix(cfg.Algorithm, "HS"):
		if cfg.Secret == "" {
			return nil, errors.New("jwt: HMAC algorithm requires a secret")
		}
		p.key = []byte(cfg.Secret)
	case strings.HasPrefix(cfg.Algorithm, "RS"), strings.HasPrefix(cfg.Algorithm, "ES"):
		key, err := loadPublicKey(cfg.PublicKeyFile, cfg.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key: %w", err)
		}
		p.key = key
	default:
		return nil, fmt.Errorf("jwt: unsupported algorithm %q", cfg.Algorithm)
	}
	return p, nil
}

// loadPublicKey loads an RSA or ECDSA public key from a PEM file.
func loadPublicKey(keyFile, algorithm string) (any, error) {
	keyData, err := os.ReadFile(keyFile) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if strings.HasPrefix(algorithm, "RS") {
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
			}
			return rsaKey, nil
		}
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("key is not an RSA public key")
		}
		return rsaKey, nil
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA public key: %w", err)
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA public key")
	}
	return ecKey, nil
}

// Enabled reports whether the guard is active.
func (p *JWTProvider) Enabled() bool {
	return p.config.Enabled
}

// VerifyToken verifies a raw token and returns its subject.
func (p *JWTProvider) VerifyToken(rawToken string) (string, bool) {
	keyFunc := func(token *jwt.Token) (any, error) {
		switch {
		case strings.HasPrefix(p.config.Algorithm, "HS"):
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
		case strings.HasPrefix(p.config.Algorithm, "RS"):
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
		case strings.HasPrefix(p.config.Algorithm, "ES"):
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
		}
		return p.key, nil
	}

	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{p.config.Algorithm}),
		jwt.WithExpirationRequired(),
	}
	if p.config.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(p.config.Issuer))
	}
	if p.config.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(p.config.Audience))
	}

	token, err := jwt.Parse(rawToken, keyFunc, parseOpts...)
	if err != nil || !token.Valid {
		return "", false
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", false
	}
	return sub, true
}

// Middleware guards the wrapped handler with bearer-token verification.
func (p *JWTProvider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		rawToken := strings.TrimPrefix(header, "Bearer ")

		if _, ok := p.VerifyToken(rawToken); !ok {
			writeUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"Message": %q}`, message)
}
