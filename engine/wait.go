package engine

import (
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/metrics"

	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Called when waiting longer would exceed the timeout. Returns what
// waitUntilAvailable returns.
type timeoutHandler func(waited time.Duration) (bool, error)

// Poll driver.IsAvailable every PollInterval. Returns true once the backup is
// available, or the result of onTimeout when the next poll would exceed timeout.
func (e *Engine) waitUntilAvailable(ctx context.Context, region, backupID string, timeout time.Duration, onTimeout timeoutHandler) (bool, error) {
	var waited time.Duration
	for {
		ok, err := e.Driver.IsAvailable(ctx, region, backupID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		if waited+e.PollInterval > timeout {
			return onTimeout(waited)
		}

		if err = e.Sleep(ctx, e.PollInterval); err != nil {
			return false, err
		}
		waited += e.PollInterval
	}
}

// Wait for the backup targeted by c. Returns false without error when c has
// been handed back to the dispatcher to resume later.
func (e *Engine) awaitAvailability(ctx context.Context, c shelvery.Continuation) (bool, error) {
	region, backupID := c.Arguments.Region, c.Arguments.BackupID
	log := e.log(c.Operation).WithFields(logrus.Fields{"backup": backupID, "region": region})

	if e.queueMode() {
		ok, err := e.Driver.IsAvailable(ctx, region, backupID)
		if err != nil || ok {
			return ok, err
		}
		log.Debug("backup not available yet, re-enqueuing")
		return false, e.continueLater(ctx, c)
	}

	deadline, budgeted := ctx.Deadline()
	if budgeted && e.dispatcher().Mode() == shelvery.DispatchInvoke {
		timeout := deadline.Sub(e.Now()) - e.SafetyMargin
		return e.waitUntilAvailable(ctx, region, backupID, timeout, func(waited time.Duration) (bool, error) {
			metrics.WaitTimeouts.WithLabelValues(string(e.Kind()), string(c.Operation)).Inc()
			log.Infof("backup not available after %v, out of execution time", waited)
			if err := e.continueLater(ctx, c); err != nil {
				return false, err
			}
			return false, nil
		})
	}

	timeout := e.Config.Duration(shelvery.KeyWaitSnapshotTimeout, nil)
	return e.waitUntilAvailable(ctx, region, backupID, timeout, func(waited time.Duration) (bool, error) {
		metrics.WaitTimeouts.WithLabelValues(string(e.Kind()), string(c.Operation)).Inc()
		log.Errorf("backup not available after %v, exiting", waited)
		e.Exit(ExitWaitTimeout)
		return false, &shelvery.UnavailableError{Region: region, BackupID: backupID, Waited: waited}
	})
}
