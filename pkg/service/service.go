package service

import (
	"context"
	"time"

	"github.com/ignatij/coachflow/pkg/lock"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
)

// Logger defines the logging interface used by the services
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Recorder receives counters about provisioning and run generation.
type Recorder interface {
	WorkflowSeeded(packKey string)
	RunGenerated()
	StepMaterialized(itemType models.StepType, outcome StepOutcomeStatus)
}

type nopRecorder struct{}

func (nopRecorder) WorkflowSeeded(string)                               {}
func (nopRecorder) RunGenerated()                                       {}
func (nopRecorder) StepMaterialized(models.StepType, StepOutcomeStatus) {}

const (
	DefaultTimezone = "America/New_York"
	DefaultLockTTL  = 2 * time.Minute
)

// Options tunes the services built by NewService.
type Options struct {
	// Now is the clock used for run timestamps; time.Now when nil.
	Now func() time.Time
	// DefaultTimezone is applied to assignments created without a timezone.
	DefaultTimezone string
	// LockPolicy decides which workflow types are provisioned locked.
	LockPolicy LockPolicy
	// NextRun computes an assignment's next_run_at after a run.
	NextRun NextRunPolicy
	// Sink materializes steps; when nil the transactional store is used.
	Sink storage.EntitySink
	// Locker serializes run generation per assignment.
	Locker  lock.Locker
	LockTTL time.Duration
	// Recorder receives metrics; optional.
	Recorder Recorder
	// TickWorkers bounds the concurrency of Ticker.Tick.
	TickWorkers int
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DefaultTimezone == "" {
		o.DefaultTimezone = DefaultTimezone
	}
	if o.LockPolicy == nil {
		o.LockPolicy = DefaultLockPolicy()
	}
	if o.NextRun == nil {
		o.NextRun = RecordOccurrence{}
	}
	if o.Locker == nil {
		o.Locker = lock.NewMemoryLocker()
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Service bundles the operations exposed to operators and schedulers.
type Service struct {
	Packs       *PackResolver
	Provisioner *Provisioner
	Editor      *Editor
	Assignments *AssignmentScheduler
	Runs        *RunGenerator
	Ticker      *Ticker
}

func NewService(store storage.Store, logger Logger, opts Options) *Service {
	opts = opts.withDefaults()
	resolver := NewPackResolver(store, logger)
	generator := NewRunGenerator(store, logger, opts)
	return &Service{
		Packs:       resolver,
		Provisioner: NewProvisioner(store, resolver, logger, opts),
		Editor:      NewEditor(store, logger, opts),
		Assignments: NewAssignmentScheduler(store, logger, opts),
		Runs:        generator,
		Ticker:      NewTicker(store, generator, logger, opts),
	}
}

// withTx runs fn inside a transaction, committing when fn succeeds and
// rolling back otherwise.
func withTx(ctx context.Context, store storage.Store, logger Logger, op string, fn func(tx storage.Store) error) (err error) {
	txStore, err := store.Begin(ctx)
	if err != nil {
		return storeError(op, err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			logger.Errorf("Failed to commit: %v", commitErr)
			err = storeError(op, commitErr, "failed to commit")
		}
	}()
	return fn(txStore)
}
