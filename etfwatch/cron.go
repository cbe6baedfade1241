package etfwatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/pipeline"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/kit"
)

const rule = "--------------------------------"

// RunDaily runs plan in order as one automatic cron activation. The first
// failing process stops the run and is mailed to the administrator; a
// completed run mails the report of every process. It matches
// scheduler.RunFunc.
func (s *Service) RunDaily(ctx context.Context, at time.Time, plan []scheduler.Process) error {
	ctx = kit.WithTransport(kit.WithActivation(ctx, kit.ActivationAuto), "cron")
	s.logger.Info("etfwatch: cron started", "at", at, "plan", plan)

	var actions strings.Builder
	for _, p := range plan {
		out, err := s.Run(ctx, p)
		if err != nil {
			s.notifier.CronFailed(ctx, string(p), err)
			return fmt.Errorf("etfwatch: cron %s: %w", p, err)
		}
		actions.WriteString(actionText(out))
	}

	if s.cfg.LogRetentionDays > 0 {
		if n, err := s.recorder.Cleanup(ctx, s.cfg.LogRetentionDays); err != nil {
			s.logger.Warn("etfwatch: status log cleanup failed", "error", err)
		} else {
			s.logger.Info("etfwatch: status log cleaned", "deleted", n)
		}
	}

	s.notifier.CronCompleted(ctx, at, s.now(), actions.String())
	s.logger.Info("etfwatch: cron completed", "at", at)
	return nil
}

// actionText renders one process report for the completion mail.
func actionText(out any) string {
	switch r := out.(type) {
	case *pipeline.DownloadReport:
		return fmt.Sprintf("Holdings Download\n%s\n%s\n\n%s\nTotal ETFs downloaded: %d\n\n",
			rule, r.StatsText(), rule, r.Total)
	case *pipeline.CategorizeReport:
		return fmt.Sprintf("Categorized tickers: %d\n\n", r.Symbols)
	case interface{ Action() string }:
		return r.Action()
	}
	return ""
}
