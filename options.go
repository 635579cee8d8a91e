package cosimio

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/cosimio/pkg/transport"
)

// TransportFactory builds the transport of one connection.
type TransportFactory func(format string, cfg transport.Config) (transport.Transport, error)

type config struct {
	logHandler   slog.Handler
	metricSink   metrics.MetricSink
	metricLabels []metrics.Label
	trCfg        transport.Config
	newTransport TransportFactory
}

func defaultConfig() *config {
	return &config{
		newTransport: transport.New,
		trCfg: transport.Config{
			Timeout:      60 * time.Second,
			PollInterval: 5 * time.Millisecond,
		},
	}
}

func (c *config) apply(opts []Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	if c.logHandler == nil {
		c.logHandler = slog.Default().Handler()
	}
	if c.metricSink == nil {
		c.metricSink = metrics.Default()
	}
	c.trCfg.LogHandler = c.logHandler
	c.trCfg.MetricSink = c.metricSink
	c.trCfg.MetricLabels = c.metricLabels
	return nil
}

// Option to pass to `NewManager` or `NewConnection`.
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// connections and their transports.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.metricSink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithTimeout bounds every wait for the partner. The "timeout" connect
// setting overrides it for a single connection.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidCfg
		}
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		c.trCfg.Timeout = timeout
		return nil
	}
}

// WithPollInterval controls how often the file transport looks for the
// partner's files.
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval < 0 {
			return ErrInvalidCfg
		}
		if interval == 0 {
			interval = 5 * time.Millisecond
		}
		c.trCfg.PollInterval = interval
		return nil
	}
}

// WithTLSConfig sets the `tls.Config` used by the quic communication
// format. Both partners should verify each other.
func WithTLSConfig(tlsConf *tls.Config) Option {
	return func(c *config) error {
		if tlsConf == nil {
			return transport.ErrNoTLSConfig
		}
		c.trCfg.TLSConfig = tlsConf.Clone()
		return nil
	}
}

// WithWorkingDirectory is used when the connect settings carry no
// "working_directory".
func WithWorkingDirectory(dir string) Option {
	return func(c *config) error {
		c.trCfg.WorkingDirectory = dir
		return nil
	}
}

// WithMemoryHub sets the hub pairing connections of the memory
// communication format.
func WithMemoryHub(hub *transport.Hub) Option {
	return func(c *config) error {
		c.trCfg.Hub = hub
		return nil
	}
}

// WithTransportFactory replaces the constructor of transports.
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *config) error {
		if factory == nil {
			factory = transport.New
		}
		c.newTransport = factory
		return nil
	}
}
