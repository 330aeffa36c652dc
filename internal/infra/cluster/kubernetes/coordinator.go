// Package kubernetes provides lease-based leader election for the migration
// controller. Seeding a stage must happen exactly once per deployment, so
// replicas compete for a lease and only the holder acts.
package kubernetes

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ahrav/hashferry/internal/app/cluster"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

var _ cluster.Coordinator = new(Coordinator)

const (
	leaseDuration = 15 * time.Second
	renewDeadline = 10 * time.Second
	retryPeriod   = 2 * time.Second
)

// Coordinator manages leader election for the migration controller using
// Kubernetes lease locks. Only one coordinator is active at a time, which
// prevents two replicas from seeding the same stage.
type Coordinator struct {
	controllerID string

	client kubernetes.Interface
	config *K8sConfig

	leaderElector *leaderelection.LeaderElector
	// Called when leadership status changes.
	leadershipChangeCB func(isLeader bool)

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator wires a coordinator around the given client and lease
// configuration.
func NewCoordinator(
	controllerID string,
	client kubernetes.Interface,
	cfg *K8sConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Coordinator, error) {
	_, span := tracer.Start(context.Background(), "kubernetes_coordinator.new",
		trace.WithAttributes(
			attribute.String("controller_id", controllerID),
		),
	)
	defer span.End()

	if cfg == nil {
		err := fmt.Errorf("config is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger = logger.With(
		"component", "kubernetes_coordinator",
		"namespace", cfg.Namespace,
		"leader_lock_id", cfg.LeaderLockID,
		"identity", cfg.Identity,
	)

	coordinator := &Coordinator{
		controllerID: controllerID,
		client:       client,
		config:       cfg,
		logger:       logger,
		tracer:       tracer,
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaderLockID,
			Namespace: cfg.Namespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: cfg.Identity,
		},
	}

	leaderConfig := leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   leaseDuration,
		RenewDeadline:   renewDeadline,
		RetryPeriod:     retryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: coordinator.onStartedLeading,
			OnStoppedLeading: coordinator.onStoppedLeading,
			OnNewLeader:      coordinator.onNewLeader,
		},
	}

	elector, err := leaderelection.NewLeaderElector(leaderConfig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create leader elector")
		return nil, fmt.Errorf("creating leader elector: %w", err)
	}
	coordinator.leaderElector = elector
	span.AddEvent("leader_elector_created")

	return coordinator, nil
}

// Start begins the leader election process and blocks until the context is
// canceled.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "kubernetes_coordinator.start",
		trace.WithAttributes(
			attribute.String("controller_id", c.controllerID),
		),
	)
	logger := c.logger.With("operation", "start")

	go c.leaderElector.Run(ctx)
	logger.Info(ctx, "Starting leader elector")
	span.AddEvent("leader_elector_started")
	span.End()

	<-ctx.Done()
	return nil
}

// Stop gracefully shuts down the coordinator.
func (c *Coordinator) Stop() error {
	c.logger.Info(context.Background(), "Stopping leader elector")
	return nil
}

// OnLeadershipChange registers a callback that will be invoked when this
// instance gains or loses leadership. Register before Start.
func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) {
	c.leadershipChangeCB = cb
}

func (c *Coordinator) onStartedLeading(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "kubernetes_coordinator.on_started_leading",
		trace.WithAttributes(
			attribute.String("controller_id", c.controllerID),
		),
	)
	defer span.End()

	c.logger.Info(ctx, "became leader")
	span.AddEvent("became_leader")
	if c.leadershipChangeCB != nil {
		c.leadershipChangeCB(true)
	}
}

func (c *Coordinator) onStoppedLeading() {
	ctx, span := c.tracer.Start(context.Background(), "kubernetes_coordinator.on_stopped_leading",
		trace.WithAttributes(
			attribute.String("controller_id", c.controllerID),
		),
	)
	defer span.End()

	c.logger.Info(ctx, "lost leadership")
	if c.leadershipChangeCB != nil {
		span.AddEvent("leadership_change_callback_invoked")
		c.leadershipChangeCB(false)
	}
}

// onNewLeader fires on every observed leader change, including elections won
// by other replicas.
func (c *Coordinator) onNewLeader(identity string) {
	if identity == c.config.Identity {
		return
	}
	c.logger.Info(context.Background(), "observed new leader", "leader_identity", identity)
}
