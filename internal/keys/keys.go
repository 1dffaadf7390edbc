// Package keys holds the signing keys used for signed UserInfo responses
// and publishes their public halves as a JWKS.
package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
)

// ErrNoSigningKey is returned when a signer has no active key
var ErrNoSigningKey = errors.New("no signing key available")

// KeyID is a unique identifier for a cryptographic key
type KeyID string

// Algorithm is a JWS algorithm identifier (e.g., "ES256", "RS256")
type Algorithm string

// KeyType represents the cryptographic key type
type KeyType string

const (
	KeyTypeECP256  KeyType = "EC-P256"
	KeyTypeECP384  KeyType = "EC-P384"
	KeyTypeRSA2048 KeyType = "RSA-2048"
	KeyTypeRSA4096 KeyType = "RSA-4096"
)

// DefaultAlgorithm returns the JWS algorithm conventionally paired with t
func DefaultAlgorithm(t KeyType) (Algorithm, error) {
	switch t {
	case KeyTypeECP256:
		return "ES256", nil
	case KeyTypeECP384:
		return "ES384", nil
	case KeyTypeRSA2048, KeyTypeRSA4096:
		return "RS256", nil
	default:
		return "", fmt.Errorf("unsupported key type: %s", t)
	}
}

// GenerateKey creates a new private key of type t
func GenerateKey(t KeyType) (crypto.Signer, error) {
	var (
		signer crypto.Signer
		err    error
	)
	switch t {
	case KeyTypeECP256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyTypeECP384:
		signer, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case KeyTypeRSA2048:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case KeyTypeRSA4096:
		signer, err = rsa.GenerateKey(rand.Reader, 4096)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return signer, nil
}

// PublicKey is a verification key published in the JWKS
type PublicKey struct {
	KeyID     KeyID
	Algorithm Algorithm
	Use       string
	Key       crypto.PublicKey
}

// Signer hands out the current signing key
type Signer interface {
	// CurrentSigner returns the active private key with its id and algorithm
	CurrentSigner(ctx context.Context) (signer crypto.Signer, keyID KeyID, alg Algorithm, err error)

	// PublicKeys returns every key a relying party may still need to verify
	// a response, the active key first
	PublicKeys(ctx context.Context) ([]PublicKey, error)
}
