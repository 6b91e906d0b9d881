package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
)

// Signer produces the RSA-SHA256 signature over a V4 signed URL's canonical request.
type Signer interface {
	// Email is the service account used as GoogleAccessID.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs download URLs with a service account's own key, so export links
// work without granting the runtime identity iam.serviceAccounts.signBlob.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

func NewServiceAccountSignerFromFile(path string) (*ServiceAccountSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read signer key %s: %w", path, err)
	}
	return NewServiceAccountSignerFromJSON(raw)
}

// NewServiceAccountSignerFromJSON accepts a downloaded service account JSON key.
func NewServiceAccountSignerFromJSON(raw []byte) (*ServiceAccountSigner, error) {
	jwtCfg, err := google.JWTConfigFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("storage: signer key: %w", err)
	}
	if jwtCfg.Email == "" {
		return nil, errors.New("storage: signer key has no client_email")
	}
	key, err := rsaKey(jwtCfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: jwtCfg.Email, key: key}, nil
}

func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, sum[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign url: %w", err)
	}
	return sig, nil
}

// rsaKey accepts PKCS#8 (what the console issues) and PKCS#1 PEM blocks.
func rsaKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("storage: signer key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("storage: parse signer key: %w", err)
		}
		return key, nil
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("storage: signer key is %T, want RSA", parsed)
	}
	return key, nil
}
