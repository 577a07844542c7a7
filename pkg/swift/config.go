package swift

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/swiftfs/swiftfs/internal/circuit"
	"github.com/swiftfs/swiftfs/pkg/objectstore"
	"github.com/swiftfs/swiftfs/pkg/retry"
	"github.com/swiftfs/swiftfs/pkg/types"
)

// DefaultConnectTimeout bounds TCP connection setup to the store.
const DefaultConnectTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	Container string `yaml:"container"`

	// HTTPClient carries storage requests. Nil means NewHTTPClient(ConnectTimeout, RequestTimeout).
	HTTPClient     *http.Client  `yaml:"-"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// RequestTimeout caps a whole request. Zero means no cap.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retry is off unless MaxAttempts is above one.
	Retry retry.Config `yaml:"retry"`

	// Breakers, when set, guards each container with its own breaker.
	Breakers *circuit.Manager `yaml:"-"`

	Logger  *slog.Logger          `yaml:"-"`
	Metrics types.MetricsRecorder `yaml:"-"`
	// Tracer defaults to the global provider's tracer for this package.
	Tracer trace.Tracer `yaml:"-"`
}

// NewHTTPClient returns a client whose dialer gives up after connectTimeout.
func NewHTTPClient(connectTimeout, requestTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.MaxIdleConnsPerHost = 16

	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}

// Factory returns an objectstore.Factory building clients that share auth,
// cfg and one HTTP client. cfg.Container is replaced by the requested container.
func Factory(auth Authenticator, cfg Config) objectstore.Factory {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.ConnectTimeout, cfg.RequestTimeout)
	}
	return func(container string) (types.ObjectStore, error) {
		c := cfg
		c.Container = container
		return NewClient(auth, c)
	}
}
