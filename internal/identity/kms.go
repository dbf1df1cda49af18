package identity

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// KMSSigner delegates signing to an external key-management service over
// HTTP (optionally mTLS), standing in for LocalIdentity when KMS_ENDPOINT
// is configured. There is no ephemeral-signature fallback: identity is
// always required, so a KMS that cannot sign is a hard failure.
type KMSSigner struct {
	endpoint  string
	client    *http.Client
	signerID  string
	bearer    string
	publicKey []byte
}

type kmsOptions struct {
	signerID string
	bearer   string
	timeout  time.Duration
	certPath string
	keyPath  string
	caPath   string
}

func kmsOptionsFromEnv() kmsOptions {
	opts := kmsOptions{
		signerID: os.Getenv("SIGNER_ID"),
		bearer:   os.Getenv("KMS_BEARER_TOKEN"),
		timeout:  5 * time.Second,
		certPath: os.Getenv("KMS_MTLS_CERT_PATH"),
		keyPath:  os.Getenv("KMS_MTLS_KEY_PATH"),
		caPath:   os.Getenv("KMS_MTLS_CA_PATH"),
	}
	if opts.signerID == "" {
		opts.signerID = "yuanjing-core-kms"
	}
	if v := os.Getenv("KMS_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			opts.timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return opts
}

// NewKMSSigner builds a KMS-backed Signer. If endpoint is empty and
// requireKMS is false, (nil, nil) is returned so callers fall back to a
// LocalIdentity.
func NewKMSSigner(endpoint string, requireKMS bool) (Signer, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		if requireKMS {
			return nil, fmt.Errorf("REQUIRE_KMS=true but KMS_ENDPOINT not set")
		}
		return nil, nil
	}

	opts := kmsOptionsFromEnv()

	tlsCfg, err := opts.tlsConfig()
	if err != nil {
		if requireKMS {
			return nil, err
		}
		tlsCfg = nil
	}

	ks := &KMSSigner{
		endpoint: endpoint,
		client: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
			Timeout:   opts.timeout,
		},
		signerID: opts.signerID,
		bearer:   opts.bearer,
	}

	pk, err := ks.fetchPublicKey()
	if err != nil {
		if requireKMS {
			return nil, fmt.Errorf("failed to obtain public key from KMS: %w", err)
		}
	} else {
		ks.publicKey = pk
	}

	return ks, nil
}

// tlsConfig builds the client TLS configuration for the KMS connection
// from the mTLS cert/key and optional CA bundle paths. Returns nil when
// nothing is configured, which leaves the client on the system defaults.
func (o kmsOptions) tlsConfig() (*tls.Config, error) {
	if o.certPath == "" && o.keyPath == "" && o.caPath == "" {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if o.certPath != "" && o.keyPath != "" {
		cert, err := tls.LoadX509KeyPair(o.certPath, o.keyPath)
		if err != nil {
			return nil, fmt.Errorf("load KMS mTLS cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if o.caPath != "" {
		caPEM, err := os.ReadFile(o.caPath)
		if err != nil {
			return nil, fmt.Errorf("read KMS CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse KMS CA bundle at %s", o.caPath)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// PublicKey returns the cached public key fetched from KMS at construction.
func (k *KMSSigner) PublicKey() []byte { return k.publicKey }

// SignerID returns the configured logical signer identifier.
func (k *KMSSigner) SignerID() string { return k.signerID }

type kmsSignRequest struct {
	SignerID string `json:"signerId"`
	Data     string `json:"data,omitempty"`
}

type kmsSignResponse struct {
	Signature string `json:"signature"`
	Sig       string `json:"sig"`
}

type kmsPublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// Sign requests a signature for data from the KMS /signData endpoint.
func (k *KMSSigner) Sign(data []byte) ([]byte, error) {
	req := kmsSignRequest{
		SignerID: k.signerID,
		Data:     base64.StdEncoding.EncodeToString(data),
	}

	var resp kmsSignResponse
	if err := k.call("/signData", req, &resp); err != nil {
		return nil, fmt.Errorf("KMS signData error: %w", err)
	}

	encoded := resp.Signature
	if encoded == "" {
		encoded = resp.Sig
	}
	if encoded == "" {
		return nil, errors.New("KMS returned no signature")
	}

	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 signature from KMS: %w", err)
	}
	return sig, nil
}

func (k *KMSSigner) fetchPublicKey() ([]byte, error) {
	var resp kmsPublicKeyResponse
	if err := k.call("/publicKey", kmsSignRequest{SignerID: k.signerID}, &resp); err != nil {
		return nil, err
	}
	if resp.PublicKey == "" {
		return nil, errors.New("KMS returned no public key")
	}
	return base64.StdEncoding.DecodeString(resp.PublicKey)
}

func (k *KMSSigner) call(path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if k.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+k.bearer)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("KMS HTTP %d: %s", resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
