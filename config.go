// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chorus

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultOwnerScope      = "community"
	DefaultSweepInterval   = 5 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
)

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	dataDir         string
	ownerScope      string
	finalityTimeout time.Duration
	sweepInterval   time.Duration
	shutdownTimeout time.Duration
	devIssuance     *big.Int
	tracing         bool
	tracingStdout   bool
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new chorus config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		ownerScope:      DefaultOwnerScope,
		sweepInterval:   DefaultSweepInterval,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.ownerScope == "" {
		return errors.New("owner scope must not be empty")
	}
	if c.sweepInterval < 0 {
		return errors.New("sweep interval must not be negative")
	}
	return nil
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithOwnerScope specifies the organization/community that owns this node's signaling space
func WithOwnerScope(ownerScope string) ConfigOptionFunc {
	return func(c *Config) {
		c.ownerScope = ownerScope
	}
}

// WithFinalityTimeout specifies how long reconciliations wait for ledger finality
// before reporting an indeterminate outcome. The default is 30 seconds
func WithFinalityTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.finalityTimeout = timeout
	}
}

// WithSweepInterval specifies the interval between mirror repair sweeps.
// A zero interval disables the periodic sweep. The default is 5 minutes
func WithSweepInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.sweepInterval = interval
	}
}

// WithDevIssuance specifies an amount of the underlying token to mint and approve
// for each signer the first time they escrow. This makes a fresh node usable without
// an out-of-band funding step and is only meant for dev mode. The default is no issuance,
// requiring callers to fund signers via [Node.TokenLedger]
func WithDevIssuance(amount *big.Int) ConfigOptionFunc {
	return func(c *Config) {
		if amount != nil {
			c.devIssuance = new(big.Int).Set(amount)
		}
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
