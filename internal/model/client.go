package model

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
	"golang.org/x/time/rate"

	"github.com/alekspetrov/gitbot/internal/gitboterr"
	"github.com/alekspetrov/gitbot/internal/logging"
)

// ClientCertConfig optionally configures an mTLS client certificate.
// Unless both CertPath and KeyPath are set the client dials with plain TLS.
type ClientCertConfig struct {
	CertPath string
	KeyPath  string
	Password string // only used for PKCS#12 bundles
}

// Client wraps the chat-completion endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

const chatCompletionsPath = "/chat/completions"

// NewClient builds a Client against baseURL, joining chatCompletionsPath
// tolerant of a missing trailing slash. If cert is non-nil and both its
// paths are set, the client presents a client certificate on the TLS
// handshake: PKCS#12 when CertPath ends in .p12/.pfx, PKCS#8 PEM otherwise.
func NewClient(baseURL, apiKey string, cert *ClientCertConfig) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cert != nil && cert.CertPath != "" && cert.KeyPath != "" {
		tlsCert, err := loadClientCert(*cert)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{tlsCert},
		}
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

func loadClientCert(cfg ClientCertConfig) (tls.Certificate, error) {
	lower := strings.ToLower(cfg.CertPath)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		raw, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return tls.Certificate{}, &gitboterr.IOError{Path: cfg.CertPath, Cause: err}
		}
		key, leaf, err := pkcs12.Decode(raw, cfg.Password)
		if err != nil {
			return tls.Certificate{}, &gitboterr.IOError{Path: cfg.CertPath, Cause: err}
		}
		return tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		}, nil
	}

	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return tls.Certificate{}, &gitboterr.IOError{Path: cfg.CertPath, Cause: err}
	}
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return tls.Certificate{}, &gitboterr.IOError{Path: cfg.KeyPath, Cause: err}
	}
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, &gitboterr.IOError{Path: cfg.CertPath, Cause: err}
	}
	return tlsCert, nil
}

// Chat invokes the chat-completion endpoint once. Retries transiently on
// 429 with a short backoff; any other non-2xx status surfaces as
// ModelAPIError.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &gitboterr.DeserializationError{Cause: err}
	}

	const maxAttempts = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.doChat(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *gitboterr.ModelAPIError
		if ae, ok := err.(*gitboterr.ModelAPIError); ok {
			apiErr = ae
		}
		if apiErr == nil || apiErr.Status != http.StatusTooManyRequests || attempt == maxAttempts {
			return nil, err
		}

		logging.Warn("model endpoint rate-limited, backing off", "attempt", attempt, "backoff_ms", backoff.Milliseconds())
		select {
		case <-ctx.Done():
			return nil, &gitboterr.TimeoutOrTransportError{Cause: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *Client) doChat(ctx context.Context, payload []byte) (*ChatResponse, error) {
	url := c.baseURL + chatCompletionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &gitboterr.ModelAPIError{Status: resp.StatusCode, Body: string(body)}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &gitboterr.DeserializationError{Cause: fmt.Errorf("decoding chat response: %w", err)}
	}
	return &chatResp, nil
}
