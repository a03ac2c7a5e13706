package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quantem/dectris-go/internal/acquisition"
	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
	"github.com/quantem/dectris-go/internal/observability/metrics"
	"github.com/quantem/dectris-go/internal/udf"
)

// Options configures a live execution context.
type Options struct {
	// Workers is the pool size; 0 selects runtime.NumCPU().
	Workers int
	// ExecutorMetrics is optional.
	ExecutorMetrics *metrics.ExecutorMetrics
}

// Context owns the worker pool UDF runs execute on. It is safe for
// concurrent use; Close is idempotent.
type Context struct {
	executor *PoolExecutor
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewContext creates an execution context with its worker pool.
func NewContext(opts Options) *Context {
	ex := NewPoolExecutor(opts.Workers)
	ex.SetMetrics(opts.ExecutorMetrics)

	c := &Context{
		executor: ex,
		logger:   logging.ForService("live"),
	}
	c.logger.Debug("execution context created", "workers", ex.Workers())
	return c
}

// Executor returns the pool executor acquisitions initialize against.
func (c *Context) Executor() *PoolExecutor {
	return c.executor
}

// RunUDF runs one UDF over the dataset and blocks until the merged
// result is available or the run fails.
func (c *Context) RunUDF(ctx context.Context, ds *acquisition.Dataset, u udf.UDF) (*udf.Result, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errors.Newf("execution context is closed").
			Component("live").
			Category(errors.CategoryState).
			Build()
	}
	return c.executor.RunUDF(ctx, ds, u)
}

// Close releases the context. Subsequent RunUDF calls fail; runs
// already in flight are unaffected.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Debug("execution context closed")
	return nil
}
