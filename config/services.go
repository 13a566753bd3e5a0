package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the export worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeSweeper runs the retention sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeSweeper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// APIKey is the shared key checked by the auth middleware. Requester
	// identity derived from it is audit-only; authorization is out of scope.
	APIKey string `env:"API_KEY" envDefault:"dev-secret"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`

	// WriteTimeout bounds response writes. Downloads stream large bundles,
	// so this default is generous.
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.ReadTimeout < time.Second {
		h.ReadTimeout = time.Second
	}
	if h.WriteTimeout < time.Second {
		h.WriteTimeout = time.Second
	}
}

// WorkerConfig contains export worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// MaxProcessing is the maximum processing duration for a claimed job.
	// A job exceeding it is forced to failed and its renderer process killed.
	MaxProcessing time.Duration `env:"WORKER_MAX_PROCESSING" envDefault:"5m"`

	// DequeueBlock is how long a dequeue blocks before re-checking for shutdown.
	DequeueBlock time.Duration `env:"WORKER_DEQUEUE_BLOCK" envDefault:"5s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.MaxProcessing < 5*time.Second {
		w.MaxProcessing = 5 * time.Second
	}
	if w.DequeueBlock < time.Second {
		w.DequeueBlock = time.Second
	}
}

// SweeperConfig contains retention sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweep tick interval, independent of request traffic.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"5m"`

	// BatchSize is the maximum number of expired jobs handled per tick.
	// Batching prevents long scans and I/O spikes on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"500"`

	// PendingStaleAfter is how long a pending job may sit untouched before
	// the sweeper re-enqueues it. Covers queue messages lost to a crash or a
	// failed re-enqueue after a retry.
	PendingStaleAfter time.Duration `env:"SWEEPER_PENDING_STALE_AFTER" envDefault:"10m"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < 10*time.Second {
		s.Interval = 10 * time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
	if s.PendingStaleAfter < time.Minute {
		s.PendingStaleAfter = time.Minute
	}
}
