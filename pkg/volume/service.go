// Package volume implements the Composite Workflows (CW): the
// volume-level operations — create, publish, republish, destroy,
// set-replica, move-replica, and snapshot create/destroy — each built
// out of the generic Transactional Operation Engine protocol plus
// node-side RPCs dispatched through the Node Client.
package volume

import (
	"context"
	"time"

	"github.com/cuemby/corectl/pkg/events"
	"github.com/cuemby/corectl/pkg/log"
	"github.com/cuemby/corectl/pkg/metrics"
	"github.com/cuemby/corectl/pkg/nodeclient"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/scheduler"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// capacityPermitTimeout bounds how long a volume-create waits for a
// limiter permit before failing ServiceBusy (§5).
const capacityPermitTimeout = 10 * time.Second

// Service wires together everything a composite workflow needs: the
// registries it mutates, the store it persists intents and commits
// to, the node dispatcher it issues RPCs through, the scheduler it
// asks for placement, and the event broker it notifies on commit.
type Service struct {
	rr         *registry.Registries
	store      store.Store
	dispatcher *nodeclient.Dispatcher
	scheduler  *scheduler.Scheduler
	broker     *events.Broker
	logger     zerolog.Logger

	createLimiter *semaphore.Weighted
}

// Config configures a Service.
type Config struct {
	Registries    *registry.Registries
	Store         store.Store
	Dispatcher    *nodeclient.Dispatcher
	Scheduler     *scheduler.Scheduler
	Broker        *events.Broker
	CreatePermits int64 // concurrent volume-creates allowed; 0 disables the limiter
}

// NewService builds a Service from Config.
func NewService(cfg Config) *Service {
	var limiter *semaphore.Weighted
	if cfg.CreatePermits > 0 {
		limiter = semaphore.NewWeighted(cfg.CreatePermits)
	}
	return &Service{
		rr:            cfg.Registries,
		store:         cfg.Store,
		dispatcher:    cfg.Dispatcher,
		scheduler:     cfg.Scheduler,
		broker:        cfg.Broker,
		logger:        log.WithComponent("volume"),
		createLimiter: limiter,
	}
}

// acquireCreatePermit blocks for up to capacityPermitTimeout for a
// create-volume permit, or returns ErrServiceBusy.
func (s *Service) acquireCreatePermit(ctx context.Context) (func(), error) {
	if s.createLimiter == nil {
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, capacityPermitTimeout)
	defer cancel()

	if err := s.createLimiter.Acquire(ctx, 1); err != nil {
		metrics.CapacityLimiterTimeoutsTotal.Inc()
		return nil, ErrServiceBusy
	}
	metrics.CapacityLimiterInUse.Inc()
	return func() {
		s.createLimiter.Release(1)
		metrics.CapacityLimiterInUse.Add(-1)
	}, nil
}

func (s *Service) notify(kind events.Kind, resourceKind, resourceID string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.Event{Kind: kind, ResourceKind: resourceKind, ResourceID: resourceID})
}

func (s *Service) observeWorkflow(workflow string, start time.Time, err *error) {
	metrics.WorkflowDuration.WithLabelValues(workflow).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if *err != nil {
		outcome = "error"
	}
	metrics.WorkflowsTotal.WithLabelValues(workflow, outcome).Inc()
}
