package provider

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxRetries applies when HTTPOptions.MaxRetries is zero
const DefaultMaxRetries = 2

// HTTPOptions tune the HTTP client shared by the hosted providers
type HTTPOptions struct {
	// MaxRetries for connection errors, 429 and 5xx responses. Negative
	// disables retries.
	MaxRetries int
	// RequestsPerSecond caps outgoing requests; zero means unlimited
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// newHTTPClient returns a client that retries with backoff and waits on a
// rate limiter before each attempt. It has no overall timeout, so long
// streams are not cut off.
func newHTTPClient(o HTTPOptions) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = o.MaxRetries
	if o.MaxRetries == 0 {
		rc.RetryMax = DefaultMaxRetries
	} else if o.MaxRetries < 0 {
		rc.RetryMax = 0
	}
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	// hand the final response to the SDK so it can report the API error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if o.Logger != nil {
		rc.Logger = retryLogger{o.Logger.Sugar()}
	}

	client := rc.StandardClient()
	client.Transport = &limitedTransport{
		base:    client.Transport,
		limiter: newLimiter(o.RequestsPerSecond),
	}
	return client
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// retryLogger adapts zap to retryablehttp.LeveledLogger
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
