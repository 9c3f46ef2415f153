package transport

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider is an interface for providing authentication tokens.
type TokenProvider interface {
	GetToken() (string, error)
}

// SDKKeyTokenProvider uses a static SDK key as the bearer token.
type SDKKeyTokenProvider struct {
	sdkKey string
}

// NewSDKKeyTokenProvider creates a new SDKKeyTokenProvider.
func NewSDKKeyTokenProvider(sdkKey string) *SDKKeyTokenProvider {
	return &SDKKeyTokenProvider{sdkKey: sdkKey}
}

func (p *SDKKeyTokenProvider) GetToken() (string, error) {
	return p.sdkKey, nil
}

// ServiceAccountTokenProvider generates a short-lived signed JWT from a
// service-account private key, for deployments where static SDK keys are
// not allowed.
type ServiceAccountTokenProvider struct {
	privateKey       *rsa.PrivateKey
	serviceAccountID string
	projectID        string
	keyID            string
	tokenTTL         time.Duration
}

// NewServiceAccountTokenProvider creates a new ServiceAccountTokenProvider.
func NewServiceAccountTokenProvider(privateKey *rsa.PrivateKey, serviceAccountID, projectID, keyID string) *ServiceAccountTokenProvider {
	return &ServiceAccountTokenProvider{
		privateKey:       privateKey,
		serviceAccountID: serviceAccountID,
		projectID:        projectID,
		keyID:            keyID,
		tokenTTL:         10 * time.Minute,
	}
}

func (p *ServiceAccountTokenProvider) GetToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":        p.serviceAccountID,
		"sub":        p.serviceAccountID,
		"exp":        jwt.NewNumericDate(now.Add(p.tokenTTL)),
		"iat":        jwt.NewNumericDate(now),
		"nbf":        jwt.NewNumericDate(now),
		"project_id": p.projectID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if p.keyID != "" {
		token.Header["kid"] = p.keyID
	}

	signedToken, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signedToken, nil
}

// LoadRSAPrivateKey loads an RSA private key from a PEM-encoded file,
// accepting PKCS1 and PKCS8 formats.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseRSAPrivateKey(keyBytes)
}

// ParseRSAPrivateKey parses an RSA private key from PEM-encoded bytes.
func ParseRSAPrivateKey(keyBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("decode pem failed")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("not an RSA key (parsed as PKCS8)")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("failed to parse private key (tried PKCS1 and PKCS8)")
}
