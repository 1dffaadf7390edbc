package keys

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKS builds a JSON Web Key Set from the signer's public keys. Keys that
// cannot be represented as a JWK are skipped; an error is returned only when
// none can.
func JWKS(ctx context.Context, signer Signer) (jwk.Set, error) {
	publicKeys, err := signer.PublicKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get public keys: %w", err)
	}

	set := jwk.NewSet()
	var lastErr error
	for _, pk := range publicKeys {
		key, err := toJWK(pk)
		if err != nil {
			lastErr = err
			continue
		}
		if err := set.AddKey(key); err != nil {
			lastErr = err
		}
	}
	if set.Len() == 0 && lastErr != nil {
		return nil, lastErr
	}
	return set, nil
}

func toJWK(pk PublicKey) (jwk.Key, error) {
	key, err := jwk.Import(pk.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to import key %s: %w", pk.KeyID, err)
	}
	alg, ok := jwa.LookupSignatureAlgorithm(string(pk.Algorithm))
	if !ok {
		return nil, fmt.Errorf("unsupported algorithm %s for key %s", pk.Algorithm, pk.KeyID)
	}
	if err := key.Set(jwk.KeyIDKey, string(pk.KeyID)); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		return nil, err
	}
	if pk.Use != "" {
		if err := key.Set(jwk.KeyUsageKey, pk.Use); err != nil {
			return nil, err
		}
	}
	return key, nil
}
