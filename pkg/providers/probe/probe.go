// Package probe checks that declared endpoints are reachable, over HTTP(S)
// or the gRPC health protocol.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// KindProbe is the action kind served by the adapter.
const KindProbe = "endpoint.probe"

// Schemes accepted in the scheme parameter.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeGRPC  = "grpc"
)

// StatusError reports an unhealthy endpoint. For gRPC, not-serving and
// unavailable map to 503.
type StatusError struct {
	Endpoint string
	Status   int
	Detail   string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.Status, e.Detail)
}

// StatusCode lets the classifier categorize the failure by status.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// Adapter probes endpoints. Per-probe timeouts come from the caller's
// context.
type Adapter struct {
	client   *http.Client
	grpcOpts []grpc.DialOption
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the client used for HTTP(S) probes.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithDialOptions adds gRPC dial options, e.g. transport credentials.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(a *Adapter) { a.grpcOpts = append(a.grpcOpts, opts...) }
}

// New creates a probe adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{client: &http.Client{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invoke implements engine.ServiceAdapter.
//
// Params: url (required), scheme (http, https or grpc; inferred from url
// when empty), name, service (gRPC service name), tls ("true" for gRPC
// over TLS).
func (a *Adapter) Invoke(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	if action.Kind != KindProbe {
		return nil, engine.NewConfigurationError(fmt.Sprintf("unsupported probe action %q", action.Kind), nil).
			WithOperation(action.Kind)
	}

	target := action.Param("url")
	if target == "" {
		return nil, engine.NewConfigurationError("endpoint.probe: missing parameter url", nil).
			WithOperation(action.Kind)
	}

	scheme := strings.ToLower(action.Param("scheme"))
	if scheme == "" {
		scheme = inferScheme(target)
	}

	switch scheme {
	case SchemeHTTP, SchemeHTTPS:
		return a.probeHTTP(ctx, target)
	case SchemeGRPC:
		return a.probeGRPC(ctx, target, action.Param("service"), action.Param("tls") == "true")
	default:
		return nil, engine.NewConfigurationError(fmt.Sprintf("endpoint %s: unsupported scheme %q", target, scheme), nil).
			WithOperation(action.Kind).
			WithRemediation("Use one of http, https or grpc for the endpoint scheme")
	}
}

func inferScheme(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		return SchemeHTTPS
	}
	if u.Scheme == "grpcs" {
		return SchemeGRPC
	}
	return strings.ToLower(u.Scheme)
}

func (a *Adapter) probeHTTP(ctx context.Context, target string) (*engine.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid endpoint URL %s", target), err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Endpoint: target, Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return &engine.Outcome{Output: map[string]interface{}{
		"url":    target,
		"status": resp.StatusCode,
	}}, nil
}

func (a *Adapter) probeGRPC(ctx context.Context, target, service string, useTLS bool) (*engine.Outcome, error) {
	address := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		address = u.Host
		useTLS = useTLS || u.Scheme == "grpcs"
	}

	opts := append([]grpc.DialOption{}, a.grpcOpts...)
	if len(a.grpcOpts) == 0 {
		if useTLS {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		} else {
			opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}
	}

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid gRPC address %s", address), err)
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("health check %s: %w", address, ctxErr)
		}
		return nil, grpcError(address, err)
	}

	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return nil, &StatusError{Endpoint: address, Status: http.StatusServiceUnavailable, Detail: resp.Status.String()}
	}

	return &engine.Outcome{Output: map[string]interface{}{
		"url":    target,
		"status": resp.Status.String(),
	}}, nil
}

func grpcError(address string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var code int
	switch st.Code() {
	case codes.Unavailable:
		code = http.StatusServiceUnavailable
	case codes.Unauthenticated:
		code = http.StatusUnauthorized
	case codes.PermissionDenied:
		code = http.StatusForbidden
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.DeadlineExceeded:
		code = http.StatusGatewayTimeout
	default:
		return err
	}
	return &StatusError{Endpoint: address, Status: code, Detail: st.Message()}
}
