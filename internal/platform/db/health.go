package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Pinger is any backing store that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// PoolStats is a JSON view of pgxpool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// ComponentHealth is one entry of a health report.
type ComponentHealth struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// HealthReport is the body of the /health/db endpoint.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker pings every registered dependency.
type Checker struct {
	timeout time.Duration
	names   []string
	pingers map[string]Pinger
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout, pingers: make(map[string]Pinger)}
}

// Add registers p under name. A *pgxpool.Pool also reports its pool stats.
func (c *Checker) Add(name string, p Pinger) *Checker {
	if _, ok := c.pingers[name]; !ok {
		c.names = append(c.names, name)
		sort.Strings(c.names)
	}
	c.pingers[name] = p
	return c
}

// Check runs every ping under one deadline.
func (c *Checker) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := HealthReport{Status: "healthy", Components: make(map[string]ComponentHealth, len(c.names))}
	for _, name := range c.names {
		p := c.pingers[name]
		ch := ComponentHealth{Status: "healthy"}
		if err := p.Ping(ctx); err != nil {
			ch.Status = "unhealthy"
			ch.Error = err.Error()
			report.Status = "unhealthy"
		}
		if pool, ok := p.(*pgxpool.Pool); ok {
			ch.Pool = GetPoolStats(pool)
		}
		report.Components[name] = ch
	}
	return report
}

// HealthHandler serves the report, answering 503 when any component fails.
func HealthHandler(c *Checker) echo.HandlerFunc {
	return func(ec echo.Context) error {
		report := c.Check(ec.Request().Context())
		code := http.StatusOK
		if report.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		return ec.JSON(code, report)
	}
}
