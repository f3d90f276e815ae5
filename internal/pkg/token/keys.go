// internal/pkg/token/keys.go
package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// KeyMode selects the signing configuration. The shared-secret mode is
// an explicit, auditable choice: it collapses sign and verify into one
// secret and must never be the silent default.
type KeyMode string

const (
	KeyModeRSA          KeyMode = "rsa"
	KeyModeSharedSecret KeyMode = "shared-secret"
)

const (
	privateKeyFile = "jwt_private.pem"
	publicKeyFile  = "jwt_public.pem"
)

// KeySet owns the signing key material. The private half is consumed
// only by the Issuer; verification-only consumers get the public half.
type KeySet struct {
	mode   KeyMode
	priv   *rsa.PrivateKey
	pub    *rsa.PublicKey
	secret []byte
}

// LoadOrGenerateKeys loads a persisted RSA keypair from dir, or
// generates a fresh 2048-bit pair and persists both halves before
// first use.
func LoadOrGenerateKeys(dir string, logger *zap.Logger) (*KeySet, error) {
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	priv, err := loadRSAPrivateKeyFromPEM(privPath)
	if err == nil {
		pub, pubErr := loadRSAPublicKeyFromPEM(pubPath)
		if pubErr != nil {
			// Private half is authoritative; rewrite the public half.
			pub = &priv.PublicKey
			if werr := writePublicKeyPEM(pubPath, pub); werr != nil {
				return nil, fmt.Errorf("failed to rewrite public key: %w", werr)
			}
		}
		return &KeySet{mode: KeyModeRSA, priv: priv, pub: pub}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load private key from %s: %w", privPath, err)
	}

	priv, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing keypair: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key dir %s: %w", dir, err)
	}
	if err := writePrivateKeyPEM(privPath, priv); err != nil {
		return nil, err
	}
	if err := writePublicKeyPEM(pubPath, &priv.PublicKey); err != nil {
		return nil, err
	}

	logger.Info("generated new RSA signing keypair", zap.String("dir", dir))
	return &KeySet{mode: KeyModeRSA, priv: priv, pub: &priv.PublicKey}, nil
}

// NewSharedSecretKeys builds a symmetric KeySet from configuration.
// This is materially weaker than the asymmetric default and unsuitable
// for production; the warning is deliberate and loud.
func NewSharedSecretKeys(secret []byte, logger *zap.Logger) (*KeySet, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("shared secret must be at least 32 bytes, got %d", len(secret))
	}

	logger.Warn("AUTH KEYS RUNNING IN SHARED-SECRET MODE: sign and verify use one symmetric secret; any verifier can mint tokens. Do not use in production.")

	return &KeySet{mode: KeyModeSharedSecret, secret: secret}, nil
}

// Mode returns the active key mode.
func (k *KeySet) Mode() KeyMode { return k.mode }

// SigningMethod returns the JWT algorithm bound to the key mode.
func (k *KeySet) SigningMethod() jwt.SigningMethod {
	if k.mode == KeyModeSharedSecret {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodRS256
}

// SignKey returns the private signing key. Issuer-only.
func (k *KeySet) SignKey() interface{} {
	if k.mode == KeyModeSharedSecret {
		return k.secret
	}
	return k.priv
}

// VerifyKey returns the verification key for verifier consumers.
func (k *KeySet) VerifyKey() interface{} {
	if k.mode == KeyModeSharedSecret {
		return k.secret
	}
	return k.pub
}

// ---- PEM persistence ----

func writePrivateKeyPEM(path string, priv *rsa.PrivateKey) error {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("failed to persist private key: %w", err)
	}
	return nil
}

func writePublicKeyPEM(path string, pub *rsa.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o644); err != nil {
		return fmt.Errorf("failed to persist public key: %w", err)
	}
	return nil
}

func loadRSAPrivateKeyFromPEM(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(b)
	if block == nil || (block.Type != "RSA PRIVATE KEY" && block.Type != "PRIVATE KEY") {
		return nil, fmt.Errorf("invalid PEM private key in %s", path)
	}

	if block.Type == "PRIVATE KEY" {
		// PKCS8 format
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key")
		}
		return rsaKey, nil
	}

	// PKCS1 format
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func loadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(b)
	if block == nil || (block.Type != "RSA PUBLIC KEY" && block.Type != "PUBLIC KEY") {
		return nil, fmt.Errorf("invalid PEM public key in %s", path)
	}

	if block.Type == "PUBLIC KEY" {
		// PKIX format
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaKey, nil
	}

	// PKCS1 format
	return x509.ParsePKCS1PublicKey(block.Bytes)
}
