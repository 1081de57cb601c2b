// Package keys manages the VAPID key pair that signs outbound web pushes.
package keys

import (
	"bytes"
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

var (
	ErrMissingKey = errors.New("vapid key missing")
	ErrInvalidKey = errors.New("vapid key invalid")
)

// Config holds the key material read from the environment at startup.
type Config struct {
	PublicKey  string
	PrivateKey string
	Email      string
}

// Credentials is what the push transport needs to sign a request.
type Credentials struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
}

// Manager owns the VAPID key pair for the lifetime of the process.
// Keys are never rotated in place; a restart is required to pick up new ones.
type Manager struct {
	publicKey  string
	privateKey string
	subscriber string
	generated  bool
}

// NewManager validates the configured key pair and falls back to a freshly
// generated one when it is absent or malformed.
//
// Generated keys live only in memory. Browsers bind a subscription to the
// public key that was active when it was created, so every subscription made
// against generated keys stops working on the next restart unless the
// operator copies the logged pair into configuration.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	m := &Manager{subscriber: subscriber(cfg.Email)}

	err := Validate(cfg.PublicKey, cfg.PrivateKey)
	if err == nil {
		m.publicKey = strings.TrimRight(cfg.PublicKey, "=")
		m.privateKey = strings.TrimRight(cfg.PrivateKey, "=")
		logger.Info("vapid keys loaded from configuration",
			zap.String("public_key", m.publicKey),
			zap.String("subscriber", m.subscriber),
		)
		return m, nil
	}

	privateKey, publicKey, genErr := webpush.GenerateVAPIDKeys()
	if genErr != nil {
		return nil, fmt.Errorf("generate vapid keys: %w", genErr)
	}

	m.publicKey = publicKey
	m.privateKey = privateKey
	m.generated = true

	logger.Warn("vapid keys not configured, using generated keys for this process only; "+
		"set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY to these values or every subscription is lost on restart",
		zap.String("reason", err.Error()),
		zap.String("VAPID_PUBLIC_KEY", publicKey),
		zap.String("VAPID_PRIVATE_KEY", privateKey),
	)

	return m, nil
}

// IsConfigured reports whether both halves of the key pair are present.
func (m *Manager) IsConfigured() bool {
	return m != nil && m.publicKey != "" && m.privateKey != ""
}

// Generated reports whether the keys were generated at startup rather than
// loaded from configuration.
func (m *Manager) Generated() bool {
	return m != nil && m.generated
}

// PublicKey returns the application server key clients subscribe with.
func (m *Manager) PublicKey() string {
	if m == nil {
		return ""
	}
	return m.publicKey
}

// Subscriber is the mailto: contact sent in the VAPID sub claim.
func (m *Manager) Subscriber() string {
	return m.subscriber
}

// Credentials returns the signing material for the push transport.
func (m *Manager) Credentials() Credentials {
	return Credentials{
		PublicKey:  m.publicKey,
		PrivateKey: m.privateKey,
		Subscriber: m.subscriber,
	}
}

// Validate checks that publicKey is an uncompressed P-256 point, privateKey a
// P-256 scalar, and that the private key derives the public one.
func Validate(publicKey, privateKey string) error {
	if publicKey == "" || privateKey == "" {
		return ErrMissingKey
	}

	pub, err := decode(publicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrInvalidKey, err)
	}
	if len(pub) != 65 || pub[0] != 0x04 {
		return fmt.Errorf("%w: public key must be a 65 byte uncompressed point", ErrInvalidKey)
	}

	priv, err := decode(privateKey)
	if err != nil {
		return fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
	}

	key, err := ecdh.P256().NewPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
	}
	if !bytes.Equal(key.PublicKey().Bytes(), pub) {
		return fmt.Errorf("%w: key pair mismatch", ErrInvalidKey)
	}

	return nil
}

// decode accepts both padded and unpadded URL-safe base64, which is how
// key generators in the wild disagree.
func decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func subscriber(email string) string {
	if email == "" {
		return ""
	}
	if strings.HasPrefix(email, "mailto:") || strings.HasPrefix(email, "https:") {
		return email
	}
	return "mailto:" + email
}
