package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	firestoreapi "google.golang.org/api/firestore/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"itinerary-service/internal/httpx"
)

const (
	DefaultBaseURL    = "https://firestore.googleapis.com/"
	DefaultDatabaseID = "(default)"

	maxResponseBody = 4 << 20
	maxErrorBody    = 4 << 10
)

var ErrNotFound = errors.New("firestore: document not found")

// StoreError is a non-2xx answer from the store.
type StoreError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("firestore: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// TokenProvider supplies the bearer token attached to every request.
type TokenProvider interface {
	AccessToken(ctx context.Context) (*oauth2.Token, error)
}

type Config struct {
	// BaseURL is the service root; requests go to BaseURL + "v1/...".
	BaseURL    string
	ProjectID  string
	DatabaseID string
	HTTPClient *http.Client
}

// Client issues document create/patch/get calls through the Firestore REST
// API. It keeps no state besides its configuration.
type Client struct {
	docs *firestoreapi.ProjectsDatabasesDocumentsService
	root string
}

func NewClient(ctx context.Context, cfg Config, tokens TokenProvider) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	db := cfg.DatabaseID
	if db == "" {
		db = DefaultDatabaseID
	}

	hc := &http.Client{Timeout: 30 * time.Second}
	if cfg.HTTPClient != nil {
		c := *cfg.HTTPClient
		hc = &c
	}
	hc.Transport = &authTransport{
		tokens: tokens,
		next:   httpx.LimitBody(hc.Transport, maxResponseBody),
	}

	svc, err := firestoreapi.NewService(ctx, option.WithHTTPClient(hc), option.WithEndpoint(base))
	if err != nil {
		return nil, fmt.Errorf("firestore: new service: %w", err)
	}
	return &Client{
		docs: svc.Projects.Databases.Documents,
		root: fmt.Sprintf("projects/%s/databases/%s/documents", cfg.ProjectID, db),
	}, nil
}

// CreateDocument creates collection/id with the given fields. The store
// rejects the call when the document already exists.
func (c *Client) CreateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	doc, err := toDocument(fields)
	if err != nil {
		return err
	}
	_, err = c.docs.CreateDocument(c.root, collection, doc).DocumentId(id).Context(ctx).Do()
	return storeError("create", err)
}

// UpdateDocument writes only the keys present in fields; other fields of the
// stored document are left untouched. The document must already exist.
func (c *Client) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	doc, err := toDocument(fields)
	if err != nil {
		return err
	}
	_, err = c.docs.Patch(c.documentName(collection, id), doc).
		UpdateMaskFieldPaths(FieldMask(fields)...).
		CurrentDocumentExists(true).
		Context(ctx).
		Do()
	return storeError("update", err)
}

// GetDocument returns the decoded fields of collection/id, or ErrNotFound.
func (c *Client) GetDocument(ctx context.Context, collection, id string) (map[string]any, error) {
	// The generated Value drops zero scalars on decode ("", 0, false), so the
	// fields are parsed from the captured wire body instead.
	var raw bytes.Buffer
	_, err := c.docs.Get(c.documentName(collection, id)).Context(withCapture(ctx, &raw)).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, storeError("get", err)
	}

	var doc struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(raw.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("firestore: get: parse document: %w", err)
	}
	values, err := unmarshalFields(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("firestore: get: %w", err)
	}
	return DecodeFields(values)
}

func (c *Client) documentName(collection, id string) string {
	return c.root + "/" + collection + "/" + id
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &StoreError{Op: op, StatusCode: gerr.Code, Body: body}
	}
	return fmt.Errorf("firestore: %s: %w", op, err)
}

func toDocument(fields map[string]any) (*firestoreapi.Document, error) {
	values, err := EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	out, err := toAPIFields(values)
	if err != nil {
		return nil, err
	}
	return &firestoreapi.Document{Fields: out}, nil
}

func toAPIFields(values map[string]Value) (map[string]firestoreapi.Value, error) {
	out := make(map[string]firestoreapi.Value, len(values))
	for k, v := range values {
		av, err := toAPIValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = *av
	}
	return out, nil
}

// toAPIValue maps a Value onto the generated wire struct. Scalars are listed
// in ForceSendFields so zero values keep their tag on the wire.
func toAPIValue(v Value) (*firestoreapi.Value, error) {
	switch v := v.(type) {
	case NullValue:
		return &firestoreapi.Value{NullValue: "NULL_VALUE"}, nil
	case StringValue:
		return &firestoreapi.Value{StringValue: string(v), ForceSendFields: []string{"StringValue"}}, nil
	case IntegerValue:
		return &firestoreapi.Value{IntegerValue: int64(v), ForceSendFields: []string{"IntegerValue"}}, nil
	case DoubleValue:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite double %v", ErrUnsupportedType, f)
		}
		return &firestoreapi.Value{DoubleValue: f, ForceSendFields: []string{"DoubleValue"}}, nil
	case BooleanValue:
		return &firestoreapi.Value{BooleanValue: bool(v), ForceSendFields: []string{"BooleanValue"}}, nil
	case TimestampValue:
		return &firestoreapi.Value{TimestampValue: time.Time(v).UTC().Format(time.RFC3339Nano)}, nil
	case ArrayValue:
		items := make([]*firestoreapi.Value, 0, len(v))
		for i, item := range v {
			av, err := toAPIValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, av)
		}
		return &firestoreapi.Value{ArrayValue: &firestoreapi.ArrayValue{Values: items}}, nil
	case MapValue:
		fields, err := toAPIFields(v)
		if err != nil {
			return nil, err
		}
		return &firestoreapi.Value{MapValue: &firestoreapi.MapValue{Fields: fields}}, nil
	default:
		return nil, fmt.Errorf("%w: value %T", ErrUnsupportedType, v)
	}
}

type captureKey struct{}

func withCapture(ctx context.Context, buf *bytes.Buffer) context.Context {
	return context.WithValue(ctx, captureKey{}, buf)
}

// authTransport attaches the bearer token and, when the request context
// carries a capture buffer, copies the response body into it as it is read.
type authTransport struct {
	tokens TokenProvider
	next   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.tokens.AccessToken(req.Context())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("access token: %w", err)
	}
	req = req.Clone(req.Context())
	tok.SetAuthHeader(req)

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if buf, ok := req.Context().Value(captureKey{}).(*bytes.Buffer); ok {
		buf.Reset()
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.TeeReader(resp.Body, buf), resp.Body}
	}
	return resp, nil
}

var simpleFieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z_0-9]*$`)

// FieldMask returns the sorted top-level field paths of fields, quoting names
// that are not plain identifiers.
func FieldMask(fields map[string]any) []string {
	paths := make([]string, 0, len(fields))
	for k := range fields {
		if !simpleFieldName.MatchString(k) {
			k = "`" + strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(k) + "`"
		}
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}
