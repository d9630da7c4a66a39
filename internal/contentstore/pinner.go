package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/praveen5665/bmail/internal/api"
)

// DefaultPinataURL is the Pinata pinning API.
const DefaultPinataURL = "https://api.pinata.cloud"

const (
	pinataPinPath = "/pinning/pinFileToIPFS"
	kuboAddPath   = "/api/v0/add?cid-version=1&pin=true"
	contentName   = "content.json"
)

// Pinner uploads bytes to a pinning service and returns the content id the
// service assigned.
type Pinner interface {
	Name() string
	Pin(ctx context.Context, data []byte) (string, error)
}

// PinataPinner pins through the Pinata HTTP API.
type PinataPinner struct {
	client *api.Client
}

// NewPinata returns a pinner authenticating with jwt. An empty baseURL uses
// DefaultPinataURL.
func NewPinata(baseURL, jwt string, timeout time.Duration) (*PinataPinner, error) {
	if jwt == "" {
		return nil, fmt.Errorf("contentstore: pinata JWT is required")
	}
	if baseURL == "" {
		baseURL = DefaultPinataURL
	}
	client, err := api.New(baseURL, api.WithToken(jwt), api.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return &PinataPinner{client: client}, nil
}

// Name implements Pinner.
func (p *PinataPinner) Name() string { return "pinata" }

// Pin implements Pinner.
func (p *PinataPinner) Pin(ctx context.Context, data []byte) (string, error) {
	body, contentType, err := multipartFile(data)
	if err != nil {
		return "", err
	}

	raw, err := p.client.DoRaw(ctx, http.MethodPost, pinataPinPath, body, contentType)
	if err != nil {
		return "", err
	}

	var resp struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode pinata response: %w", err)
	}
	if resp.IpfsHash == "" {
		return "", fmt.Errorf("pinata response has no IpfsHash")
	}
	return resp.IpfsHash, nil
}

// KuboPinner adds content through a Kubo (go-ipfs) node's RPC API.
type KuboPinner struct {
	client *api.Client
}

// NewKubo returns a pinner for the node whose API listens on apiAddr, a
// multiaddr such as /ip4/127.0.0.1/tcp/5001.
func NewKubo(apiAddr string, timeout time.Duration) (*KuboPinner, error) {
	addr, err := ma.NewMultiaddr(apiAddr)
	if err != nil {
		return nil, fmt.Errorf("contentstore: kubo API address: %w", err)
	}
	network, host, err := manet.DialArgs(addr)
	if err != nil {
		return nil, fmt.Errorf("contentstore: kubo API address: %w", err)
	}
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("contentstore: kubo API address %s is not a TCP address", addr)
	}

	// Kubo's RPC API only accepts POST, so the client never retries.
	client, err := api.New("http://"+host, api.WithTimeout(timeout), api.WithRetry(api.NoRetry()))
	if err != nil {
		return nil, err
	}
	return &KuboPinner{client: client}, nil
}

// Name implements Pinner.
func (k *KuboPinner) Name() string { return "kubo" }

// Pin implements Pinner.
func (k *KuboPinner) Pin(ctx context.Context, data []byte) (string, error) {
	body, contentType, err := multipartFile(data)
	if err != nil {
		return "", err
	}

	raw, err := k.client.DoRaw(ctx, http.MethodPost, kuboAddPath, body, contentType)
	if err != nil {
		return "", err
	}

	var resp struct {
		Name string `json:"Name"`
		Hash string `json:"Hash"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode kubo response: %w", err)
	}
	if resp.Hash == "" {
		return "", fmt.Errorf("kubo response has no Hash")
	}
	return resp.Hash, nil
}

// multipartFile wraps data as the "file" field of a multipart form.
func multipartFile(data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, contentName))
	h.Set("Content-Type", "application/json")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
