package http

import (
	"bytes"
	"io"
	"net/http"

	x402 "github.com/x402-echo/echo-merchant"
)

// Client is an http.Client whose transport pays 402 challenges.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a paying client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{Client: &http.Client{}}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// WithHTTPClient sets the underlying client. Apply it before WithSigner.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = httpClient
		return nil
	}
}

// WithSigner adds a payment signer.
func WithSigner(signer x402.Signer) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		transport.Signers = append(transport.Signers, signer)
		return nil
	}
}

// WithPaymentCallback receives the client's payment events.
func WithPaymentCallback(callback x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).OnPaymentEvent = callback
		return nil
	}
}

func getOrCreateTransport(c *Client) *X402Transport {
	transport, ok := c.Transport.(*X402Transport)
	if !ok {
		transport = &X402Transport{Base: c.Transport}
		c.Transport = transport
	}
	return transport
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func withBody(req *http.Request, body []byte) *http.Request {
	if body == nil {
		return req
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return req
}
