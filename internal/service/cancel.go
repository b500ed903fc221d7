// Package service provides the business logic of the job orchestration core.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
)

// DefaultCancelChannel is the Redis pub/sub channel used to broadcast
// cancellations across replicas.
const DefaultCancelChannel = "jobs:cancel"

// CancellationControllerOptions groups dependencies for CancellationController.
type CancellationControllerOptions struct {
	Store  core.JobStore // Required
	Logger *slog.Logger  // Optional

	// Optional: pub/sub fan-out so replicas flip in-memory flags without
	// waiting for the store poll.
	Redis   redis.UniversalClient
	Channel string
}

// CancellationController owns the cooperative cancellation path. The
// persisted cancelled flag on the record is the source of truth; the
// in-memory flags only make locally running bodies observe it sooner.
type CancellationController struct {
	store   core.JobStore
	logger  *slog.Logger
	client  redis.UniversalClient
	channel string

	mu    sync.Mutex
	flags map[string]*atomic.Bool
}

var _ core.JobCanceller = (*CancellationController)(nil)

// NewCancellationController constructs the controller.
func NewCancellationController(opts CancellationControllerOptions) (*CancellationController, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultCancelChannel
	}

	return &CancellationController{
		store:   opts.Store,
		logger:  logger.With("component", "cancellation"),
		client:  opts.Redis,
		channel: channel,
		flags:   make(map[string]*atomic.Bool),
	}, nil
}

// Track registers a locally running job and returns its cancellation flag
// plus a release func. The executor polls the store separately; the flag is
// the fast path flipped by Cancel and by the pub/sub listener.
func (c *CancellationController) Track(jobID string) (*atomic.Bool, func()) {
	flag := &atomic.Bool{}

	c.mu.Lock()
	c.flags[jobID] = flag
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.flags, jobID)
		c.mu.Unlock()
	}
	return flag, release
}

// Cancel requests cancellation of a single job. Returns true when the
// record transitioned; false when it was already terminal.
func (c *CancellationController) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := c.store.Cancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if !ok {
		if _, getErr := c.store.Get(ctx, jobID); getErr != nil {
			if errors.Is(getErr, data.ErrJobNotFound) {
				return false, getErr
			}
			return false, fmt.Errorf("inspect job %s: %w", jobID, getErr)
		}
		// Already terminal. Not an error, just not modified.
		return false, nil
	}

	c.flip(jobID)
	c.broadcast(ctx, jobID)
	c.logger.InfoContext(ctx, "job cancelled", "job_id", jobID)
	return true, nil
}

// CancelByType bulk-cancels non-terminal jobs of one type, optionally
// narrowed by a metadata filter expression.
func (c *CancellationController) CancelByType(
	ctx context.Context,
	params model.CancelByTypeParams,
) (int64, error) {
	n, err := c.store.CancelRunningByType(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs of type %s: %w", params.Type, err)
	}
	if n > 0 {
		// Locally tracked jobs of this type learn about it through the
		// store poll; there is no per-id list to flip here.
		c.logger.InfoContext(ctx, "jobs cancelled by type",
			"job_type", params.Type, "count", n, "filter", params.MetadataFilter)
	}
	return n, nil
}

// Listen subscribes to the cancellation channel and flips local flags as
// broadcasts arrive. Returns nil on graceful shutdown. No-op without Redis.
func (c *CancellationController) Listen(ctx context.Context) error {
	if c.client == nil {
		<-ctx.Done()
		return nil
	}

	sub := c.client.Subscribe(ctx, c.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			c.logger.Debug("close cancel subscription", "error", err)
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.flip(msg.Payload)
		}
	}
}

func (c *CancellationController) flip(jobID string) {
	c.mu.Lock()
	flag := c.flags[jobID]
	c.mu.Unlock()

	if flag != nil {
		flag.Store(true)
	}
}

func (c *CancellationController) broadcast(ctx context.Context, jobID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Publish(ctx, c.channel, jobID).Err(); err != nil {
		c.logger.WarnContext(ctx, "broadcast cancellation failed", "job_id", jobID, "error", err)
	}
}
