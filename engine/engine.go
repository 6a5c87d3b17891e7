package engine

import (
	"github.com/sloonz/shelvery/dispatch"
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/metadata"
	"github.com/sloonz/shelvery/metrics"

	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Exit code of a long-lived process whose availability wait timed out
const ExitWaitTimeout = 3

const (
	DefaultPollInterval = 15 * time.Second
	DefaultSafetyMargin = 20 * time.Second
)

var (
	engineLog = logrus.WithFields(logrus.Fields{
		"component": "engine",
	})
)

// Orchestrates backups of one resource kind, in one account and region
type Engine struct {
	Driver     shelvery.Driver
	Config     *shelvery.Config
	Metadata   shelvery.BlobBackend
	Notifier   shelvery.Notifier
	Dispatcher shelvery.Dispatcher

	// When set and sqs_queue_url is configured, continuations are
	// enqueued instead of handed to Dispatcher
	SQS dispatch.SQSAPI

	AccountID string
	Region    string

	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
	Exit         func(code int)
	PollInterval time.Duration
	SafetyMargin time.Duration

	buckets *sync.Map
}

func New(driver shelvery.Driver, cfg *shelvery.Config, backend shelvery.BlobBackend, notifier shelvery.Notifier, dispatcher shelvery.Dispatcher) *Engine {
	return &Engine{
		Driver:       driver,
		Config:       cfg,
		Metadata:     backend,
		Notifier:     notifier,
		Dispatcher:   dispatcher,
		Now:          time.Now,
		Sleep:        sleep,
		Exit:         os.Exit,
		PollInterval: DefaultPollInterval,
		SafetyMargin: DefaultSafetyMargin,
		buckets:      new(sync.Map),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) Kind() shelvery.ResourceKind {
	return e.Driver.Kind()
}

func (e *Engine) now() time.Time {
	return e.Now().UTC()
}

func (e *Engine) log(op shelvery.Operation) *logrus.Entry {
	return engineLog.WithFields(logrus.Fields{"kind": e.Kind(), "operation": op})
}

// Same engine, resolving configuration against another invocation payload
func (e *Engine) withPayload(payload map[string]string) *Engine {
	if payload == nil {
		return e
	}
	bound := *e
	bound.Config = e.Config.Rebind(payload)
	return &bound
}

var handlers = map[shelvery.Operation]func(e *Engine, ctx context.Context, c shelvery.Continuation) error{
	shelvery.OpCreateBackups: func(e *Engine, ctx context.Context, c shelvery.Continuation) error {
		_, err := e.CreateBackups(ctx)
		return err
	},
	shelvery.OpCleanBackups: func(e *Engine, ctx context.Context, c shelvery.Continuation) error {
		_, err := e.CleanBackups(ctx)
		return err
	},
	shelvery.OpPullSharedBackups: func(e *Engine, ctx context.Context, c shelvery.Continuation) error {
		_, err := e.PullSharedBackups(ctx)
		return err
	},
	shelvery.OpCopyBackup: func(e *Engine, ctx context.Context, c shelvery.Continuation) error {
		_, err := e.DoCopyBackup(ctx, c)
		return err
	},
	shelvery.OpShareBackup: func(e *Engine, ctx context.Context, c shelvery.Continuation) error {
		_, err := e.DoShareBackup(ctx, c)
		return err
	},
	shelvery.OpStoreBackupData: func(e *Engine, ctx context.Context, c shelvery.Continuation) error {
		_, err := e.DoStoreBackupData(ctx, c)
		return err
	},
}

// Part of shelvery.Runner interface
func (e *Engine) Run(ctx context.Context, c shelvery.Continuation) error {
	if c.Kind != e.Kind() {
		return fmt.Errorf("%w: %s (engine handles %s)", shelvery.ErrUnsupportedKind, c.Kind, e.Kind())
	}

	handler, ok := handlers[c.Operation]
	if !ok {
		return &shelvery.UnknownOperationError{Operation: string(c.Operation)}
	}

	e.log(c.Operation).WithFields(logrus.Fields{"id": c.ID, "iteration": c.Arguments.Iteration}).Debug("running")
	return handler(e.withPayload(c.Config), ctx, c)
}

func (e *Engine) queueMode() bool {
	return e.SQS != nil && e.Config.String(shelvery.KeySQSQueueURL, nil) != ""
}

func (e *Engine) dispatcher() shelvery.Dispatcher {
	if e.queueMode() {
		return dispatch.NewQueue(e.SQS, e.Config.String(shelvery.KeySQSQueueURL, nil), e.Config.Duration(shelvery.KeySQSQueueWaitPeriod, nil))
	}
	return e.Dispatcher
}

func (e *Engine) send(ctx context.Context, c shelvery.Continuation) error {
	d := e.dispatcher()
	metrics.ContinuationsDispatched.WithLabelValues(string(c.Operation), d.Mode().String()).Inc()
	return d.Dispatch(ctx, c)
}

// Hand a new operation to the dispatcher. A dispatch failure is reported and
// does not abort the caller.
func (e *Engine) dispatch(ctx context.Context, op shelvery.Operation, args shelvery.Arguments) {
	c := shelvery.NewContinuation(e.Kind(), op, args, e.Config.Payload())
	if err := e.send(ctx, c); err != nil {
		e.fail(ctx, op, &shelvery.BackupRecord{BackupID: args.BackupID, Region: args.Region}, "cannot dispatch operation", err)
	}
}

// Re-dispatch c with its iteration counter incremented, unless the counter
// already reached lambda_max_wait_iterations
func (e *Engine) continueLater(ctx context.Context, c shelvery.Continuation) error {
	limit := e.Config.Int(shelvery.KeyMaxWaitIterations, nil)
	if c.Arguments.Iteration >= limit {
		return fmt.Errorf("%w: %s on %s after %d iterations", shelvery.ErrMaxIterations, c.Operation, c.Arguments.BackupID, c.Arguments.Iteration)
	}

	next := c.Next()
	next.Config = e.Config.Payload()
	e.log(c.Operation).WithFields(logrus.Fields{"backup": c.Arguments.BackupID, "iteration": next.Arguments.Iteration}).Info("continuing later")
	return e.send(ctx, next)
}

func (e *Engine) event(op shelvery.Operation, status string, r *shelvery.BackupRecord, msg string) shelvery.Event {
	ev := shelvery.Event{
		Operation:  string(op),
		Status:     status,
		BackupType: string(e.Kind()),
		Message:    msg,
	}
	if r != nil {
		ev.BackupName = r.Name
		ev.BackupID = r.BackupID
		ev.EntityID = r.EntityID
		ev.Region = r.Region
	}
	return ev.Stamped(e.now())
}

func (e *Engine) succeed(ctx context.Context, op shelvery.Operation, r *shelvery.BackupRecord, msg string) {
	e.Notifier.Publish(ctx, e.event(op, shelvery.StatusOK, r, msg))
}

func (e *Engine) fail(ctx context.Context, op shelvery.Operation, r *shelvery.BackupRecord, msg string, err error) {
	metrics.OperationFailures.WithLabelValues(string(e.Kind()), string(op)).Inc()
	ev := e.event(op, shelvery.StatusError, r, msg)
	ev.ExceptionInfo = err.Error()
	e.Notifier.Publish(ctx, ev)
}

func (e *Engine) regionOf(r *shelvery.BackupRecord) string {
	if r.Region != "" {
		return r.Region
	}
	return e.Region
}

// Metadata store of account in region; only the local account's buckets are created
func (e *Engine) openStore(ctx context.Context, account, region string) (*metadata.Store, error) {
	opener, err := metadata.NewOpener(e.Metadata, e.Config, e.Kind())
	if err != nil {
		return nil, err
	}
	if e.buckets != nil {
		opener.Created = e.buckets
	}
	return opener.Open(ctx, account, region, account == e.AccountID)
}
