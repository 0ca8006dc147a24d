package schedulers

import (
	"context"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var log = config.InitLogger()

const jobTimeout = 5 * time.Minute

// PollPendingIntents re-verifies open intents whose next poll is due.
func PollPendingIntents(ctx context.Context, ss *services.SettlementService) func() {
	return func() {
		ctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		n, err := ss.PollPending(ctx)
		if err != nil {
			log.Error("Failed poll pending intents: ", err)
			return
		}
		if n > 0 {
			log.WithFields(logrus.Fields{"count": n}).Info("Pending intents polled")
		}
	}
}

// ExpireStaleIntents closes intents past their expiry with nothing found.
func ExpireStaleIntents(ctx context.Context, ss *services.SettlementService) func() {
	return func() {
		ctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		n, err := ss.ExpireStale(ctx)
		if err != nil {
			log.Error("Failed expire stale intents: ", err)
			return
		}
		if n > 0 {
			log.WithFields(logrus.Fields{"count": n}).Info("Stale intents expired")
		}
	}
}

// RetryFailedSettlements resumes verified intents whose settlement failed
// or was interrupted.
func RetryFailedSettlements(ctx context.Context, ss *services.SettlementService) func() {
	return func() {
		ctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		n, err := ss.RetryFailed(ctx)
		if err != nil {
			log.Error("Failed retry settlements: ", err)
			return
		}
		if n > 0 {
			log.WithFields(logrus.Fields{"count": n}).Info("Settlements retried")
		}
	}
}

func CheckLedgerIntegrity(ctx context.Context, is *services.IntegrityService) func() {
	return func() {
		ctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		report, err := is.Check(ctx)
		if err != nil {
			log.Error("Failed integrity check: ", err)
			return
		}
		if !report.OK() {
			log.WithFields(logrus.Fields{
				"units": report.UnitsOff,
				"drift": len(report.Drift),
				"chain": len(report.BrokenChain),
				"held":  report.Held,
			}).Warn("Ledger integrity check failed")
		}
	}
}

// NewScheduler registers the settlement jobs. An overrunning job skips its
// next tick instead of running twice.
func NewScheduler(ctx context.Context, cfg *config.Config, ss *services.SettlementService, is *services.IntegrityService) (*cron.Cron, error) {
	logger := cron.PrintfLogger(log)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	jobs := []struct {
		spec string
		job  func()
	}{
		{cfg.PollSpec, PollPendingIntents(ctx, ss)},
		{cfg.PollSpec, ExpireStaleIntents(ctx, ss)},
		{cfg.PollSpec, RetryFailedSettlements(ctx, ss)},
		{cfg.IntegritySpec, CheckLedgerIntegrity(ctx, is)},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.job); err != nil {
			return nil, err
		}
	}
	return c, nil
}
