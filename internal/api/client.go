// Package api talks to the remote achievement service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"badgeup.io/relay/internal/event"
	"badgeup.io/relay/internal/protocol"
)

const maxBodyBytes = 4 << 20

var tracer = otel.Tracer("badgeup.io/relay/internal/api")

type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	MaxPages  int
	UserAgent string
	Logger    *log.Logger

	// HTTPClient overrides the default client; its own Timeout is left alone.
	HTTPClient *http.Client
}

type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
}

// StatusError is a non-2xx answer from the remote.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status=%d", e.StatusCode)
	}
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("empty api base url")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base url: %s", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "badgeup-relay/1"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, base: u, httpClient: hc}, nil
}

// SendEvent posts one envelope. Any non-2xx answer is a failure.
func (c *Client) SendEvent(ctx context.Context, env event.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return protocol.Wrap(protocol.ErrMalformedValue, "envelope", err)
	}
	_, err = c.do(ctx, http.MethodPost, c.endpoint("/events"), body)
	return err
}

// GetAchievement fetches one achievement definition. A 404 is a lookup miss.
func (c *Client) GetAchievement(ctx context.Context, id string) (Achievement, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Achievement{}, protocol.Errorf(protocol.ErrMissingField, "id", "achievement id is empty")
	}
	b, err := c.do(ctx, http.MethodGet, c.endpoint("/achievements/"+url.PathEscape(id)), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return Achievement{}, &protocol.Error{Code: protocol.ErrLookupNotFound, Field: "id", Msg: "achievement " + id, Err: se}
		}
		return Achievement{}, err
	}
	if err := validateDoc(achievementSchema, b); err != nil {
		return Achievement{}, err
	}
	var a Achievement
	if err := json.Unmarshal(b, &a); err != nil {
		return Achievement{}, protocol.Wrap(protocol.ErrMalformedValue, "achievement", err)
	}
	return a, nil
}

// Progress returns every progress record of subject across all pages.
func (c *Client) Progress(ctx context.Context, subject string) ([]ProgressRecord, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, protocol.Errorf(protocol.ErrMissingField, "subject", "subject is empty")
	}
	q := url.Values{"subject": []string{subject}}
	return FetchAll[ProgressRecord](ctx, c, "/progress?"+q.Encode(), progressPageSchema)
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// resolve turns a next-page cursor into a request URL. Cursors may be absolute,
// host-relative, or relative to the base path, but must stay on the configured
// host, since every request carries the credential.
func (c *Client) resolve(cursor string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(cursor))
	if err != nil {
		return "", protocol.Wrap(protocol.ErrMalformedValue, "pages.next", err)
	}
	dir := *c.base
	dir.Path = strings.TrimRight(dir.Path, "/") + "/"
	dir.RawPath = ""
	u := dir.ResolveReference(ref)
	if u.Host != c.base.Host || u.Scheme != c.base.Scheme {
		return "", protocol.Errorf(protocol.ErrMalformedValue, "pages.next", "cursor leaves api host: %s", u.Host)
	}
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "badgeup "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
		))
	defer span.End()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, protocol.Wrap(protocol.ErrMalformedValue, "url", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("user-agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("authorization", "Bearer "+c.cfg.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, protocol.CodeOf(err))
		return nil, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		se := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		span.SetStatus(codes.Error, se.Error())
		return nil, protocol.Wrap(protocol.ErrRemoteFailure, "", se)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		err = classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, protocol.CodeOf(err))
		return nil, err
	}
	return b, nil
}

func classify(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded || (errors.As(err, &ne) && ne.Timeout()) {
		return protocol.Wrap(protocol.ErrTimeout, "", err)
	}
	return protocol.Wrap(protocol.ErrRemoteFailure, "", err)
}

func (c *Client) printf(format string, args ...any) {
	if c != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}
