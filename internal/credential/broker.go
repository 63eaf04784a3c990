// Package credential exchanges a service-account key for a short-lived
// OAuth2 access token using a signed JWT assertion.
package credential

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	jwtflow "golang.org/x/oauth2/jwt"
)

const (
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	DatastoreScope  = "https://www.googleapis.com/auth/datastore"

	maxErrorBody = 4 << 10
)

var ErrMalformedCredential = errors.New("credential: malformed service account")

// Error reports a failed step of the token exchange.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("credential: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("credential: %s: %v", e.Op, e.Err)
	default:
		return "credential: " + e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ServiceAccount is the subset of a Google service-account key file the
// broker needs.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount decodes a JSON key file and checks the fields needed
// for signing.
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, &Error{Op: "parse", Err: fmt.Errorf("%w: %v", ErrMalformedCredential, err)}
	}
	if err := sa.validate(); err != nil {
		return nil, err
	}
	return &sa, nil
}

func (sa *ServiceAccount) validate() error {
	var missing []string
	if sa.ClientEmail == "" {
		missing = append(missing, "client_email")
	}
	if sa.PrivateKey == "" {
		missing = append(missing, "private_key")
	}
	if len(missing) > 0 {
		return &Error{Op: "parse", Err: fmt.Errorf("%w: missing %s", ErrMalformedCredential, strings.Join(missing, ", "))}
	}
	return nil
}

func (sa *ServiceAccount) signingKey() (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, &Error{Op: "parse", Err: fmt.Errorf("%w: private_key: %v", ErrMalformedCredential, err)}
	}
	return key, nil
}

// Broker signs assertions and exchanges them at the token endpoint. It does
// not cache: every call performs a fresh exchange.
type Broker struct {
	httpClient *http.Client
	scopes     []string
}

type Option func(*Broker)

func WithHTTPClient(c *http.Client) Option {
	return func(b *Broker) { b.httpClient = c }
}

func WithScopes(scopes ...string) Option {
	return func(b *Broker) { b.scopes = scopes }
}

func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		scopes:     []string{DatastoreScope},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AccessToken signs an RS256 assertion for sa and exchanges it for a bearer
// token.
func (b *Broker) AccessToken(ctx context.Context, sa *ServiceAccount) (*oauth2.Token, error) {
	if sa == nil {
		return nil, &Error{Op: "parse", Err: fmt.Errorf("%w: nil credential", ErrMalformedCredential)}
	}
	if err := sa.validate(); err != nil {
		return nil, err
	}
	if _, err := sa.signingKey(); err != nil {
		return nil, err
	}

	tokenURL := sa.TokenURI
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	conf := &jwtflow.Config{
		Email:        sa.ClientEmail,
		PrivateKey:   []byte(sa.PrivateKey),
		PrivateKeyID: sa.PrivateKeyID,
		Scopes:       b.scopes,
		TokenURL:     tokenURL,
	}

	// the flow posts without a request context; bind ctx through the transport
	hc := *b.httpClient
	hc.Transport = contextTransport{ctx: ctx, next: hc.Transport}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &hc)

	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			body := rerr.Body
			if len(body) > maxErrorBody {
				body = body[:maxErrorBody]
			}
			return nil, &Error{Op: "exchange", StatusCode: rerr.Response.StatusCode, Body: string(body)}
		}
		return nil, &Error{Op: "exchange", Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &Error{Op: "exchange", Err: errors.New("response has no access_token")}
	}
	return tok, nil
}

// contextTransport cancels requests when either the request context (which
// carries the client timeout) or ctx is done.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	if err := t.ctx.Err(); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(t.ctx, cancel)
	release := func() {
		stop()
		cancel()
	}

	resp, err := next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releaseBody struct {
	io.ReadCloser
	release func()
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// TokenSource yields access tokens for one bound credential.
type TokenSource interface {
	AccessToken(ctx context.Context) (*oauth2.Token, error)
}

// Source binds sa to the broker.
func (b *Broker) Source(sa *ServiceAccount) TokenSource {
	return &source{broker: b, account: sa}
}

type source struct {
	broker  *Broker
	account *ServiceAccount
}

func (s *source) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	return s.broker.AccessToken(ctx, s.account)
}
