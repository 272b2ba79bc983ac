// Package auth signs feed requests with RSA-PSS.
//
// Kalshi authenticates both the REST API and the WebSocket handshake
// with three headers derived from an API key id and an RSA private
// key: KALSHI-ACCESS-KEY, KALSHI-ACCESS-TIMESTAMP and
// KALSHI-ACCESS-SIGNATURE (PSS signature over timestamp+method+path).
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// WebSocketPath is the request path signed for WebSocket handshakes.
const WebSocketPath = "/trade-api/ws/v2"

// Signer produces authentication headers for feed requests.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewSigner creates a Signer from a key id and a loaded private key.
func NewSigner(keyID string, key *rsa.PrivateKey) (*Signer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("api key id is required")
	}
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	return &Signer{keyID: keyID, key: key}, nil
}

// LoadSigner reads an RSA private key from a PEM file and builds a Signer.
func LoadSigner(keyID, privateKeyPath string) (*Signer, error) {
	key, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return NewSigner(keyID, key)
}

// LoadPrivateKey loads an RSA private key from a PEM file.
// PKCS#8 is tried first, then PKCS#1.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// Headers returns the signed authentication headers for one request.
// The signed message is timestamp_ms + method + path.
func (s *Signer) Headers(method, path string) (map[string]string, error) {
	ts := time.Now().UnixMilli()

	sig, err := s.sign(fmt.Sprintf("%d%s%s", ts, method, path))
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       s.keyID,
		"KALSHI-ACCESS-TIMESTAMP": fmt.Sprintf("%d", ts),
		"KALSHI-ACCESS-SIGNATURE": sig,
	}, nil
}

// WebSocketHeaders returns signed headers for the WebSocket handshake.
func (s *Signer) WebSocketHeaders() (map[string]string, error) {
	return s.Headers("GET", WebSocketPath)
}

func (s *Signer) sign(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPSS(
		rand.Reader,
		s.key,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}
