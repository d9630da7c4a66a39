// Package contentstore stores message bodies on IPFS.
//
// Uploads go through a single Pinner. Reads walk an ordered list of public
// gateways and return the first successful response; a malformed content id
// is rejected before any gateway is asked.
package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"golang.org/x/time/rate"
	"gopkg.in/op/go-logging.v1"

	"github.com/praveen5665/bmail/internal/api"
	"github.com/praveen5665/bmail/internal/apierrors"
	"github.com/praveen5665/bmail/internal/log"
	"github.com/praveen5665/bmail/internal/metrics"
)

// DefaultGateways is the gateway order used when none is configured.
var DefaultGateways = []string{
	"https://ipfs.io",
	"https://gateway.pinata.cloud",
	"https://cloudflare-ipfs.com",
	"https://ipfs.infura.io",
	"https://gateway.ipfs.io",
	"https://dweb.link",
}

var (
	// ErrInvalidContentID is the cause when a content id is not a CID.
	ErrInvalidContentID = apierrors.ErrInvalidContentID

	// ErrDigestMismatch is returned when a gateway serves bytes that do not
	// hash to the requested CID.
	ErrDigestMismatch = errors.New("contentstore: content does not match its CID")
)

const (
	defaultGatewayRPS   = 5
	defaultGatewayBurst = 5
)

type gateway struct {
	url     string
	client  *api.Client
	limiter *rate.Limiter
}

// Store uploads through a Pinner and fetches through gateways.
type Store struct {
	pinner     Pinner
	gateways   []*gateway
	log        *logging.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	rps        float64
	httpClient *http.Client
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithTimeout bounds each gateway request.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// WithGatewayRate limits requests to each gateway to rps per second.
// Zero or less disables limiting.
func WithGatewayRate(rps float64) Option {
	return func(s *Store) {
		s.rps = rps
	}
}

// WithHTTPClient sets the HTTP client used for gateway requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		s.httpClient = c
	}
}

// New returns a Store uploading through pinner and reading from gateways in
// order. A nil or empty gateways list uses DefaultGateways.
func New(pinner Pinner, gateways []string, opts ...Option) (*Store, error) {
	s := &Store{
		pinner:  pinner,
		timeout: api.DefaultTimeout,
		rps:     defaultGatewayRPS,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.Discard("contentstore")
	}
	if len(gateways) == 0 {
		gateways = DefaultGateways
	}

	for _, u := range gateways {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			continue
		}
		// Failing over to the next gateway is the retry.
		client, err := api.New(u,
			api.WithTimeout(s.timeout),
			api.WithHTTPClient(s.httpClient),
			api.WithRetry(api.NoRetry()),
		)
		if err != nil {
			return nil, fmt.Errorf("contentstore: gateway %q: %w", u, err)
		}
		gw := &gateway{url: u, client: client}
		if s.rps > 0 {
			gw.limiter = rate.NewLimiter(rate.Limit(s.rps), defaultGatewayBurst)
		}
		s.gateways = append(s.gateways, gw)
	}
	if len(s.gateways) == 0 {
		return nil, fmt.Errorf("contentstore: no usable gateways")
	}
	return s, nil
}

// Gateways returns the gateway base URLs in the order they are tried.
func (s *Store) Gateways() []string {
	out := make([]string, len(s.gateways))
	for i, gw := range s.gateways {
		out[i] = gw.url
	}
	return out
}

// Upload serializes v and pins it. []byte, string and json.RawMessage are
// stored verbatim; anything else is encoded as JSON.
func (s *Store) Upload(ctx context.Context, v any) (string, error) {
	if s.pinner == nil {
		return "", fmt.Errorf("%w: no pinning service configured", apierrors.ErrStorageUnavailable)
	}

	data, err := Encode(v)
	if err != nil {
		return "", err
	}

	name := s.pinner.Name()
	id, err := s.pinner.Pin(ctx, data)
	if err != nil {
		s.metrics.Upload(name, "error")
		s.log.Warningf("Upload to %s failed: %v", name, err)
		return "", fmt.Errorf("%w: %s: %w", apierrors.ErrStorageUnavailable, name, err)
	}
	if _, err := ParseID(id); err != nil {
		s.metrics.Upload(name, "invalid_id")
		return "", fmt.Errorf("%w: %s returned %q: %w", apierrors.ErrStorageUnavailable, name, id, err)
	}

	s.metrics.Upload(name, "ok")
	s.log.Debugf("Uploaded %d bytes to %s as %s", len(data), name, id)
	return id, nil
}

// Fetch returns the bytes stored under contentID from the first gateway
// that serves them.
func (s *Store) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	c, err := ParseID(contentID)
	if err != nil {
		return nil, &apierrors.ContentUnavailableError{ContentID: contentID, Err: err}
	}

	var lastErr error
	attempts := 0
	for _, gw := range s.gateways {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		data, err := s.fetchFrom(ctx, gw, c)
		if err == nil {
			s.metrics.Fetch(gw.url, "ok")
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		s.metrics.Fetch(gw.url, "error")
		s.log.Debugf("Gateway %s failed for %s: %v", gw.url, contentID, err)
		lastErr = err
	}

	s.log.Warningf("Content %s unavailable after %d gateways", contentID, attempts)
	return nil, &apierrors.ContentUnavailableError{ContentID: contentID, Attempts: attempts, Err: lastErr}
}

func (s *Store) fetchFrom(ctx context.Context, gw *gateway, c cid.Cid) ([]byte, error) {
	if gw.limiter != nil {
		if err := gw.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := gw.client.DoRaw(ctx, http.MethodGet, "/ipfs/"+c.String(), nil, "")
	if err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceContent)
	}
	if err := Verify(c, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ParseID validates a content id.
func ParseID(contentID string) (cid.Cid, error) {
	c, err := cid.Decode(strings.TrimSpace(contentID))
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrInvalidContentID, contentID, err)
	}
	return c, nil
}

// Verify checks data against c when c addresses the bytes directly (raw
// codec). Other codecs address a DAG the gateway has already unpacked, so
// they are accepted as served.
func Verify(c cid.Cid, data []byte) error {
	if c.Type() != cid.Raw {
		return nil
	}
	sum, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("contentstore: hash content: %w", err)
	}
	if !sum.Equals(c) {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, c)
	}
	return nil
}

// Encode returns the bytes Upload stores for v.
func Encode(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case json.RawMessage:
		return t, nil
	case string:
		return []byte(t), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("contentstore: encode content: %w", err)
	}
	return data, nil
}
