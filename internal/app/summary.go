package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"triagebot/internal/config"
	slackbot "triagebot/internal/integrations/slack"
	"triagebot/internal/pipeline"
	"triagebot/internal/storage/sqlite"
)

type statsTotals struct {
	Processed   int64
	RateLimited int64
	BreakerOpen int64
	Fallbacks   int64
	Escalations int64
}

func snapshotStats(s *pipeline.Stats) statsTotals {
	return statsTotals{
		Processed:   s.Processed.Load(),
		RateLimited: s.RateLimited.Load(),
		BreakerOpen: s.BreakerOpen.Load(),
		Fallbacks:   s.Fallbacks.Load(),
		Escalations: s.Escalations.Load(),
	}
}

func (t statsTotals) sub(prev statsTotals) statsTotals {
	return statsTotals{
		Processed:   t.Processed - prev.Processed,
		RateLimited: t.RateLimited - prev.RateLimited,
		BreakerOpen: t.BreakerOpen - prev.BreakerOpen,
		Fallbacks:   t.Fallbacks - prev.Fallbacks,
		Escalations: t.Escalations - prev.Escalations,
	}
}

// FormatStatsSummary renders the periodic summary line posted to Slack and
// written to the log.
func FormatStatsSummary(delta statsTotals, auditCounts map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Triage summary: processed=%d rate_limited=%d breaker_rejected=%d fallbacks=%d escalations=%d",
		delta.Processed, delta.RateLimited, delta.BreakerOpen, delta.Fallbacks, delta.Escalations)
	if len(auditCounts) > 0 {
		fmt.Fprintf(&b, " | safety audits: urgent=%d high=%d standard=%d",
			auditCounts["urgent"], auditCounts["high"], auditCounts["standard"])
	}
	return b.String()
}

// StartStatsSummaryScheduler posts counter deltas on the configured cron
// schedule. The schedule is a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func StartStatsSummaryScheduler(cfg config.Config, p *pipeline.Pipeline, store *sqlite.AuditStore, notifier *slackbot.Notifier) {
	schedule := strings.TrimSpace(cfg.StatsSummarySchedule)
	if schedule == "" {
		log.Println("Stats summary disabled (stats_summary_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid stats_summary_schedule '%s': %v — stats summary disabled", schedule, err)
		return
	}
	log.Printf("Stats summary scheduled (cron: %s)", schedule)

	go func() {
		prev := snapshotStats(p.Stats())
		lastRun := time.Now()
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next stats summary at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			current := snapshotStats(p.Stats())
			delta := current.sub(prev)
			prev = current

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			auditCounts, auditErr := store.CountAuditRecordsBySeverity(ctx, lastRun)
			cancel()
			if auditErr != nil {
				log.Printf("Stats summary audit query error: %v", auditErr)
				auditCounts = nil
			}
			lastRun = time.Now()

			summary := FormatStatsSummary(delta, auditCounts)
			log.Printf("%s", summary)
			if notifier != nil {
				if postErr := notifier.PostSummary(summary); postErr != nil {
					log.Printf("Stats summary post error: %v", postErr)
				}
			}
		}
	}()
}
