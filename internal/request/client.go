package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

// Requester sends a request and decodes the JSON response into out.
// Error-shaped responses are returned as *ResponseError or *AuthError.
type Requester interface {
	Do(ctx context.Context, url string, opts Options, out any) error
}

// Options describes a single request.
type Options struct {
	// Method is GET or POST. Empty means POST.
	Method string

	// Params are encoded into the query string (GET) or a form body (POST).
	// f=json is added unless already present.
	Params map[string]any

	// Headers are added to the outgoing request.
	Headers http.Header

	// Credential supplies the token. A managed credential also supplies the
	// credentials mode.
	Credential Credential

	// CredentialsMode overrides the mode chosen by the credential.
	CredentialsMode CredentialsMode
}

// WithParam returns a copy of o with key set in Params. The caller's map is
// never modified.
func (o Options) WithParam(key string, value any) Options {
	params := make(map[string]any, len(o.Params)+1)
	maps.Copy(params, o.Params)
	params[key] = value
	o.Params = params
	return o
}

func (o Options) method() string {
	if o.Method == "" {
		return http.MethodPost
	}
	return strings.ToUpper(o.Method)
}

// Client is the HTTP implementation of Requester.
type Client struct {
	httpClient *http.Client
	jar        http.CookieJar
	origin     string
	limiter    *rate.Limiter
	userAgent  string
}

// ClientOption configures the request client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Jar is ignored; cookies are
// attached per request according to the credentials mode.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithOrigin sets the origin the client acts for. Same-origin requests to
// it carry cookies.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) {
		if o, err := arcgis.Origin(origin); err == nil {
			c.origin = o
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// NewClient creates a new request client.
func NewClient(opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		jar:        jar,
		userAgent:  "portalauth",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do sends the request described by opts to rawURL and decodes the response
// into out (which may be nil).
func (c *Client) Do(ctx context.Context, rawURL string, opts Options, out any) error {
	token, mode, err := opts.Credential.resolve(ctx, rawURL)
	if err != nil {
		return err
	}
	if opts.CredentialsMode != "" {
		mode = opts.CredentialsMode
	}
	if token != "" {
		opts = opts.WithParam("token", token)
	}

	req, err := c.newRequest(ctx, rawURL, opts)
	if err != nil {
		return err
	}
	c.attachCookies(req, mode)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	logging.Debug("Request", "%s %s (credentials=%s, token=%s)", req.Method, rawURL, mode, logging.RedactToken(token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if c.jar != nil {
		c.jar.SetCookies(req.URL, resp.Cookies())
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	return decodeResponse(rawURL, opts, resp.StatusCode, body, out)
}

func (c *Client) newRequest(ctx context.Context, rawURL string, opts Options) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", rawURL, err)
	}

	values, err := encodeParams(opts.Params)
	if err != nil {
		return nil, err
	}
	if values.Get("f") == "" {
		values.Set("f", "json")
	}

	var req *http.Request
	switch method := opts.method(); method {
	case http.MethodGet:
		query := u.Query()
		for k, vs := range values {
			query[k] = vs
		}
		u.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, fmt.Errorf("unsupported request method %q", method)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// attachCookies adds jar cookies for the target when the mode allows it.
func (c *Client) attachCookies(req *http.Request, mode CredentialsMode) {
	if c.jar == nil {
		return
	}
	if mode != CredentialsInclude {
		target, err := arcgis.Origin(req.URL.String())
		if err != nil || c.origin == "" || target != c.origin {
			return
		}
	}
	for _, cookie := range c.jar.Cookies(req.URL) {
		req.AddCookie(cookie)
	}
}

// encodeParams flattens params into url.Values. Strings, numbers and bools
// are formatted directly; times become epoch milliseconds; anything else is
// JSON encoded.
func encodeParams(params map[string]any) (url.Values, error) {
	values := url.Values{}
	for k, v := range params {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			values.Set(k, val)
		case bool:
			values.Set(k, strconv.FormatBool(val))
		case int:
			values.Set(k, strconv.Itoa(val))
		case int64:
			values.Set(k, strconv.FormatInt(val, 10))
		case float64:
			values.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		case time.Time:
			values.Set(k, strconv.FormatInt(val.UnixMilli(), 10))
		case fmt.Stringer:
			values.Set(k, val.String())
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("failed to encode param %q: %w", k, err)
			}
			values.Set(k, string(encoded))
		}
	}
	return values, nil
}

// errorEnvelope accepts both the portal error object and the OAuth error
// string.
type errorEnvelope struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func decodeResponse(rawURL string, opts Options, status int, body []byte, out any) error {
	base := ResponseError{URL: rawURL, Options: opts, Status: status}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope errorEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Error) > 0 && string(envelope.Error) != "null" {
			var detail arcgis.ErrorDetail
			if err := json.Unmarshal(envelope.Error, &detail); err == nil {
				base.Code = detail.Code
				base.MessageCode = detail.MessageCode
				base.Message = detail.Message
				base.Details = detail.Details
				return classify(base)
			}
			var code string
			if err := json.Unmarshal(envelope.Error, &code); err == nil {
				base.MessageCode = code
				base.Message = envelope.ErrorDescription
				if base.Message == "" {
					base.Message = code
				}
				return classify(base)
			}
		}
	}

	if status < 200 || status > 299 {
		return classify(base)
	}

	if out == nil || len(trimmed) == 0 {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", rawURL, err)
	}
	return nil
}
