package poly_auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Creds is one API credential bundle. The secret is the exchange's
// url-safe base64 encoded HMAC key.
type Creds struct {
	APIKey     string
	Secret     string
	Passphrase string
}

func (c Creds) Empty() bool {
	return c.APIKey == "" || c.Secret == "" || c.Passphrase == ""
}

// CredentialSource produces a fresh credential bundle when the current
// one is rejected by the exchange. Implementations typically re-derive
// API creds from the wallet key.
type CredentialSource interface {
	Refresh() (Creds, error)
}

// Signer signs exchange requests with HMAC-SHA256 over
// timestamp+method+path+body and sets the POLY-* auth headers. Both
// the HTTP client and authenticated WebSocket dials share this signer.
// The zero credential case yields a nil Signer whose methods no-op,
// allowing public-endpoint-only operation.
type Signer struct {
	address string

	mu     sync.RWMutex
	creds  Creds
	source CredentialSource

	now func() time.Time
}

// NewSigner returns a Signer, or (nil, nil) when creds are empty so
// callers can run unauthenticated.
func NewSigner(address string, creds Creds, source CredentialSource) (*Signer, error) {
	if creds.Empty() {
		return nil, nil
	}
	if _, err := decodeSecret(creds.Secret); err != nil {
		return nil, fmt.Errorf("invalid api secret: %w", err)
	}
	return &Signer{
		address: address,
		creds:   creds,
		source:  source,
		now:     time.Now,
	}, nil
}

// SignRequest sets the auth headers on req. body must be the exact
// payload bytes being sent, or nil. No-op when s is nil.
func (s *Signer) SignRequest(req *http.Request, body []byte) error {
	if s == nil {
		return nil
	}
	h, err := s.Headers(req.Method, req.URL.Path, body)
	if err != nil {
		return err
	}
	for k, v := range h {
		req.Header[k] = v
	}
	return nil
}

// Headers returns the POLY-* auth headers for a request, suitable for
// both HTTP calls and authenticated WebSocket dials. Returns nil when
// s is nil.
func (s *Signer) Headers(method, path string, body []byte) (http.Header, error) {
	if s == nil {
		return nil, nil
	}

	s.mu.RLock()
	creds := s.creds
	s.mu.RUnlock()

	ts := strconv.FormatInt(s.now().Unix(), 10)
	sig, err := sign(creds.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("POLY-ADDRESS", s.address)
	h.Set("POLY-SIGNATURE", sig)
	h.Set("POLY-TIMESTAMP", ts)
	h.Set("POLY-API-KEY", creds.APIKey)
	h.Set("POLY-PASSPHRASE", creds.Passphrase)
	return h, nil
}

// Refresh swaps in a fresh credential bundle from the source. Called
// by the HTTP client once per auth-expired response; concurrent
// callers serialize here so the source is hit once.
func (s *Signer) Refresh() error {
	if s == nil || s.source == nil {
		return fmt.Errorf("no credential source configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.source.Refresh()
	if err != nil {
		return fmt.Errorf("refresh credentials: %w", err)
	}
	if creds.Empty() {
		return fmt.Errorf("credential source returned empty bundle")
	}
	if _, err := decodeSecret(creds.Secret); err != nil {
		return fmt.Errorf("refreshed secret invalid: %w", err)
	}
	s.creds = creds
	return nil
}

// Enabled reports whether this signer has credentials loaded.
func (s *Signer) Enabled() bool {
	return s != nil && !s.creds.Empty()
}

func sign(secret, timestamp, method, path string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	if len(body) > 0 {
		mac.Write(body)
	}
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodeSecret(secret string) ([]byte, error) {
	if key, err := base64.URLEncoding.DecodeString(secret); err == nil {
		return key, nil
	}
	return base64.StdEncoding.DecodeString(secret)
}
