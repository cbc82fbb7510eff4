// Package lifecycle runs mutation commands. Every command validates, persists
// and post-processes inside one transaction and invokes the registered field
// type hooks in registration order.
package lifecycle

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/internal/repositories/attribute"
	"github.com/congraphcms/eav-sub001/internal/repositories/attributeset"
	"github.com/congraphcms/eav-sub001/internal/repositories/entity"
	"github.com/congraphcms/eav-sub001/internal/repositories/entitytype"
	"github.com/congraphcms/eav-sub001/internal/repositories/locale"
	eavcontext "github.com/congraphcms/eav-sub001/pkg/context"
	"github.com/congraphcms/eav-sub001/pkg/database"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/metrics"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
	"github.com/congraphcms/eav-sub001/pkg/validation"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

type State string

const (
	StateReceived      State = "received"
	StateValidated     State = "validated"
	StatePersisted     State = "persisted"
	StatePostProcessed State = "post_processed"
)

// Command tracks one mutation through its states.
type Command struct {
	Kind        string
	OperationID string
	State       State
	// Snapshot is the metadata the command was received with.
	Snapshot *metadata.Snapshot

	afterCommit []func(context.Context)
	logger      ectologger.Logger
}

func (c *Command) advance(ctx context.Context, state State) {
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"command":      c.Kind,
		"operation_id": c.OperationID,
		"from":         c.State,
		"to":           state,
	}).Debug("command state changed")
	c.State = state
}

// AfterCommit schedules fn to run once the transaction committed.
func (c *Command) AfterCommit(fn func(context.Context)) {
	c.afterCommit = append(c.afterCommit, fn)
}

type Repositories struct {
	Entities      entity.EntityRepository
	EntityTypes   entitytype.EntityTypeRepository
	Attributes    attribute.AttributeRepository
	AttributeSets attributeset.AttributeSetRepository
	Locales       locale.LocaleRepository
	// Files is optional. It is only needed by DeleteFile.
	Files FileDeleter
}

type FileDeleter interface {
	Delete(ctx context.Context, id int64) error
}

type Coordinator struct {
	db       database.DB
	registry *metadata.Registry
	handlers *fields.Registry
	pipeline *validation.Pipeline
	store    *values.Store
	repos    Repositories
	hooks    hooks
	txOpts   *sql.TxOptions
	logger   ectologger.Logger
}

func NewCoordinator(
	db database.DB,
	registry *metadata.Registry,
	handlers *fields.Registry,
	pipeline *validation.Pipeline,
	store *values.Store,
	repos Repositories,
	logger ectologger.Logger,
) *Coordinator {
	return &Coordinator{
		db:       db,
		registry: registry,
		handlers: handlers,
		pipeline: pipeline,
		store:    store,
		repos:    repos,
		logger:   logger,
	}
}

// SetTxOptions sets the options every command transaction begins with.
func (c *Coordinator) SetTxOptions(opts *sql.TxOptions) {
	c.txOpts = opts
}

// run executes fn in a transaction. The metadata snapshot is taken before the
// transaction begins so that it is never loaded from uncommitted state.
func (c *Coordinator) run(ctx context.Context, kind string, fn func(ctx context.Context, cmd *Command) error) (err error) {
	start := time.Now()
	ctx, operationID := eavcontext.EnsureOperationID(ctx)
	ctx, span := tracing.StartSpan(ctx, "Coordinator."+kind)
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"command":      kind,
		"operation_id": operationID,
	})

	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
			tracing.RecordError(span, err)
		}
		metrics.RecordCommand(kind, status, time.Since(start).Seconds())
	}()

	snapshot, err := c.registry.Snapshot(ctx)
	if err != nil {
		return err
	}

	cmd := &Command{
		Kind:        kind,
		OperationID: operationID,
		State:       StateReceived,
		Snapshot:    snapshot,
		logger:      c.logger,
	}

	txCtx, tx, err := c.db.GetTx(ctx, c.txOpts)
	if err != nil {
		return err
	}

	if err = fn(txCtx, cmd); err != nil {
		if rbErr := tx.Rollback(txCtx); rbErr != nil {
			log.WithError(rbErr).Error("failed to roll back command")
		}
		log.WithError(err).WithField("state", cmd.State).Debug("command failed")
		return err
	}

	if err = tx.Commit(txCtx); err != nil {
		return err
	}

	for _, fn := range cmd.afterCommit {
		fn(ctx)
	}
	log.WithField("elapsed", time.Since(start).String()).Debug("command completed")
	return nil
}

// invalidateOnCommit drops the cached metadata once the command committed.
func (c *Coordinator) invalidateOnCommit(cmd *Command) {
	cmd.AfterCommit(func(ctx context.Context) {
		c.registry.Invalidate(ctx)
	})
}

func (c *Coordinator) handler(attribute *models.Attribute) (fields.Handler, error) {
	return c.handlers.Get(attribute.FieldType)
}
