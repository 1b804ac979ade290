package opensearch

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"auditlog/config"
	"auditlog/metrics"
	"auditlog/storage"
)

// Configurator builds a Client from ElasticConfig. Hosts, basic auth and the
// CA bundle are applied in that order and any failing step aborts the build.
type Configurator struct {
	cfg       config.ElasticConfig
	disk      storage.Disk
	client    *Client
	transport http.RoundTripper
	metrics   *metrics.Metrics
}

func NewConfigurator(cfg config.ElasticConfig, disk storage.Disk) *Configurator {
	return &Configurator{cfg: cfg, disk: disk}
}

// WithClient makes Configure return client instead of building one.
// Configuration is still validated.
func (c *Configurator) WithClient(client *Client) *Configurator {
	c.client = client
	return c
}

// WithTransport sets the HTTP transport used by the built client.
func (c *Configurator) WithTransport(rt http.RoundTripper) *Configurator {
	c.transport = rt
	return c
}

func (c *Configurator) WithMetrics(m *metrics.Metrics) *Configurator {
	c.metrics = m
	return c
}

// Configure validates the configuration and returns a ready client.
func (c *Configurator) Configure() (*Client, error) {
	builder, err := c.builderConfig()
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		return c.client, nil
	}

	client, err := opensearch.NewClient(builder)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	slog.Info("search client configured",
		"hosts", c.cfg.Hosts,
		"basic_auth", c.cfg.UseBasicAuth,
		"ca_cert", c.cfg.UseCaCert,
		"async", c.cfg.Async)
	return &Client{os: client, async: c.cfg.Async, metrics: c.metrics}, nil
}

func (c *Configurator) builderConfig() (opensearch.Config, error) {
	b := opensearch.Config{
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				return time.Second
			}
			return time.Duration(i) * time.Second
		},
		MaxRetries: 5,
		Transport:  c.transport,
	}
	for _, step := range []func(*opensearch.Config) error{
		c.setHosts,
		c.setBasicAuth,
		c.setCaBundle,
	} {
		if err := step(&b); err != nil {
			return opensearch.Config{}, err
		}
	}
	return b, nil
}

func (c *Configurator) setHosts(b *opensearch.Config) error {
	if len(c.cfg.Hosts) == 0 {
		return &ConfigError{Key: "elastic.hosts"}
	}
	for _, h := range c.cfg.Hosts {
		u, err := url.Parse(h)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Key: "elastic.hosts"}
		}
	}
	b.Addresses = append([]string(nil), c.cfg.Hosts...)
	return nil
}

func (c *Configurator) setBasicAuth(b *opensearch.Config) error {
	if !c.cfg.UseBasicAuth {
		return nil
	}
	if c.cfg.UserName == "" {
		return &ConfigError{Key: "elastic.user_name"}
	}
	if c.cfg.Password == "" {
		return &ConfigError{Key: "elastic.password"}
	}
	b.Username = c.cfg.UserName
	b.Password = c.cfg.Password
	return nil
}

func (c *Configurator) setCaBundle(b *opensearch.Config) error {
	if !c.cfg.UseCaCert {
		return nil
	}
	if c.cfg.CertPath == "" {
		return &ConfigError{Key: "elastic.cert_path"}
	}

	path, err := c.disk.Path(c.cfg.CertPath)
	if err != nil {
		return &MissingCertError{Path: c.cfg.CertPath, Err: err}
	}
	if path == "" {
		return &MissingCertError{Path: c.cfg.CertPath}
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return &MissingCertError{Path: path, Err: err}
	}
	b.CACert = pem
	return nil
}
