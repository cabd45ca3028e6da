package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/preset-io/agor-sub001/internal/cronx"
	"github.com/preset-io/agor-sub001/internal/domain"
	"github.com/preset-io/agor-sub001/internal/eventbus"
	"github.com/preset-io/agor-sub001/internal/store"
	"github.com/preset-io/agor-sub001/internal/template"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

// tick evaluates every schedule-enabled worktree once. Failures are
// isolated per worktree: one broken schedule never blocks the rest of the
// batch.
func (s *Service) tick(ctx context.Context, now time.Time) TickResult {
	var res TickResult

	worktrees, err := s.worktrees.ListScheduleEnabled(ctx)
	if err != nil {
		s.log.Error("tick: listing enabled schedules failed", logx.Err(err))
		res.Errors++
		return res
	}

	for _, wt := range worktrees {
		res.Evaluated++
		spawned, err := s.processSchedule(ctx, wt, now)
		if err != nil {
			res.Errors++
			s.log.Error("schedule processing failed",
				logx.String("worktree", wt.ID), logx.Err(err))
			continue
		}
		if spawned {
			res.Spawned++
		}
	}
	return res
}

// processSchedule decides due-ness for one worktree.
//
// Recovery is "most recent firing only": after downtime, the single latest
// firing inside the grace window is spawned; anything older is skipped
// forever. There is no catch-up queue.
func (s *Service) processSchedule(ctx context.Context, wt *domain.Worktree, now time.Time) (bool, error) {
	expr := strings.TrimSpace(wt.ScheduleCron)
	if expr == "" {
		// Enabled without an expression is treated as "not due", not an error.
		return false, nil
	}
	loc := time.UTC
	if wt.Schedule != nil {
		loc = cronx.Location(wt.Schedule.Timezone)
	}
	grace := s.gracePeriod()

	var scheduledRunAt time.Time
	due := false

	prev, err := cronx.Prev(expr, now, loc)
	if err == nil {
		if d := now.Sub(prev); d >= 0 && d < grace {
			scheduledRunAt = prev
			due = true
		}
	} else if !errors.Is(err, cronx.ErrNoPrev) {
		return false, err
	}

	if !due {
		next, err := cronx.Next(expr, now, loc)
		if err != nil {
			return false, err
		}
		if d := now.Sub(next); d >= 0 && d < grace {
			scheduledRunAt = next
			due = true
		}
	}

	if !due {
		return false, nil
	}
	return s.spawnScheduledSession(ctx, wt, scheduledRunAt, now)
}

// spawnScheduledSession creates and kicks off the session for one firing.
// The returned bool reports whether a new session was actually created
// (false on dedup).
func (s *Service) spawnScheduledSession(ctx context.Context, wt *domain.Worktree, scheduledRunAt, now time.Time) (bool, error) {
	runAtMS := scheduledRunAt.UnixMilli()
	expr := strings.TrimSpace(wt.ScheduleCron)
	loc := time.UTC
	if wt.Schedule != nil {
		loc = cronx.Location(wt.Schedule.Timezone)
	}

	advanceMeta := func() error {
		next, err := cronx.Next(expr, now, loc)
		if err != nil {
			return err
		}
		return s.worktrees.UpdateScheduleMeta(ctx, wt.ID, runAtMS, next.UnixMilli())
	}

	// Dedup by exact scheduled_run_at. A hit still advances the metadata
	// so the same already-handled firing isn't re-checked every tick.
	if existing, err := s.sessions.FindByScheduledRunAt(ctx, wt.ID, runAtMS); err == nil {
		s.log.Debug("firing already handled",
			logx.String("worktree", wt.ID),
			logx.String("session", existing.ID),
			logx.Int64("scheduled_run_at", runAtMS))
		return false, advanceMeta()
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	schedule := domain.ScheduleConfig{}
	if wt.Schedule != nil {
		schedule = *wt.Schedule
	}

	prompt := template.Render(schedule.Prompt, map[string]any{
		"worktree": map[string]any{
			"name":             wt.Name,
			"ref":              wt.Ref,
			"path":             wt.Path,
			"issue_url":        wt.IssueURL,
			"pull_request_url": wt.PullRequestURL,
			"notes":            wt.Notes,
			"custom_context":   wt.CustomContext,
		},
		"schedule": schedule,
	})

	prior, err := s.sessions.CountScheduled(ctx, wt.ID)
	if err != nil {
		return false, err
	}
	runIndex := prior + 1

	sess := &domain.Session{
		ID:                    uuid.NewString(),
		WorktreeID:            wt.ID,
		Status:                domain.SessionIdle,
		ScheduledRunAt:        runAtMS,
		ScheduledFromWorktree: true,
		CreatedAt:             now.UnixMilli(),
		CustomContext: domain.SessionContext{
			ScheduledRun: &domain.ScheduledRunSnapshot{
				Prompt:   prompt,
				RunIndex: runIndex,
				Schedule: schedule,
			},
		},
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return false, fmt.Errorf("creating session: %w", err)
	}

	// A failure past this point leaves the session created but untriggered.
	// Acknowledged gap (no auto-retry); the error surfaces in tick logs.
	if err := s.trigger.TriggerFirstPrompt(ctx, sess.ID, prompt); err != nil {
		return false, fmt.Errorf("triggering session %s: %w", sess.ID, err)
	}

	if err := advanceMeta(); err != nil {
		return false, err
	}

	s.spawned.Add(1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionSpawned, Data: eventbus.SessionSpawned{
			WorktreeID:     wt.ID,
			SessionID:      sess.ID,
			ScheduledRunAt: runAtMS,
			RunIndex:       runIndex,
		}})
	}
	s.log.Info("scheduled session spawned",
		logx.String("worktree", wt.ID),
		logx.String("session", sess.ID),
		logx.Int("run_index", runIndex),
		logx.Time("scheduled_run_at", scheduledRunAt))

	s.enforceRetention(ctx, wt, schedule.Retention)
	return true, nil
}

// enforceRetention deletes scheduled sessions beyond the newest `keep`.
// Strictly best-effort: failures are logged and never abort a scheduling
// cycle.
func (s *Service) enforceRetention(ctx context.Context, wt *domain.Worktree, keep int) {
	if keep <= 0 {
		return
	}
	all, err := s.sessions.ListByWorktree(ctx, wt.ID)
	if err != nil {
		s.log.Warn("retention: listing sessions failed", logx.String("worktree", wt.ID), logx.Err(err))
		return
	}
	scheduled := all[:0]
	for _, sess := range all {
		if sess.ScheduledFromWorktree {
			scheduled = append(scheduled, sess)
		}
	}
	if len(scheduled) <= keep {
		return
	}
	sort.Slice(scheduled, func(i, j int) bool {
		return scheduled[i].ScheduledRunAt > scheduled[j].ScheduledRunAt
	})
	for _, old := range scheduled[keep:] {
		if err := s.sessions.Delete(ctx, old.ID); err != nil {
			s.log.Warn("retention: delete failed",
				logx.String("worktree", wt.ID),
				logx.String("session", old.ID),
				logx.Err(err))
			continue
		}
		s.log.Debug("retention: pruned session",
			logx.String("worktree", wt.ID),
			logx.String("session", old.ID),
			logx.Int64("scheduled_run_at", old.ScheduledRunAt))
	}
}
