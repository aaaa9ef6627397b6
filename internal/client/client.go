// Package client wires the arcmill services together: one constructor
// building the format registry, resilience controller, pipeline, and
// repair engine with explicit instances, no globals.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/extract"
	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/metrics"
	"github.com/arcmill/arcmill/internal/monitor"
	"github.com/arcmill/arcmill/internal/pipeline"
	"github.com/arcmill/arcmill/internal/repair"
	"github.com/arcmill/arcmill/internal/resilience"
	"github.com/arcmill/arcmill/internal/stream"
)

// Client provides the high-level API for arcmill operations.
type Client struct {
	Registry   *format.Registry
	Controller *resilience.Controller
	Pipeline   *pipeline.Service
	Repair     *repair.Engine

	config *config.Config
	logger *events.Logger
}

// New creates a client from validated config.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	registry := format.DefaultRegistry(logger)
	controller := resilience.NewController(cfg.Resilience, logger)
	pipe := pipeline.NewService(registry, controller, cfg, logger)
	repairEngine := repair.NewEngine(&cfg.Repair, logger)

	return &Client{
		Registry:   registry,
		Controller: controller,
		Pipeline:   pipe,
		Repair:     repairEngine,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Config returns the config the client was built from.
func (c *Client) Config() *config.Config {
	return c.config
}

// StartAdaptive launches the controller's adaptive tuner when the
// config asks for it. Safe to call unconditionally.
func (c *Client) StartAdaptive(ctx context.Context) {
	if c.config.Resilience.Adaptive {
		c.Controller.StartAdaptive(ctx)
	}
}

// OpenSource resolves an archive reference: s3://bucket/key becomes a
// ranged S3 source, anything else opens as a local file. The returned
// closer is a no-op for sources that hold nothing open.
func (c *Client) OpenSource(ctx context.Context, ref string) (stream.Source, func() error, error) {
	if strings.HasPrefix(ref, "s3://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, nil, fmt.Errorf("parse s3 reference: %w", err)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, nil, fmt.Errorf("s3 reference needs bucket and key: %s", ref)
		}

		src, err := stream.OpenS3Source(ctx, u.Host, key, c.logger)
		if err != nil {
			return nil, nil, err
		}
		return src, func() error { return nil }, nil
	}

	src, err := stream.NewFileSource(ref)
	if err != nil {
		return nil, nil, err
	}
	return src, src.Close, nil
}

// NewSink builds an extraction sink at dest using the configured
// conflict strategy.
func (c *Client) NewSink(dest string) (*extract.Sink, error) {
	return extract.NewSink(dest, c.config.Extract, c.logger)
}

// NewMonitor builds the transition feed server with the metrics scrape
// endpoint attached.
func (c *Client) NewMonitor() (*monitor.Server, error) {
	scrape, err := metrics.Handler(c.Controller)
	if err != nil {
		return nil, err
	}
	return monitor.NewServer(c.Controller, scrape, c.config.Monitor, c.logger), nil
}
