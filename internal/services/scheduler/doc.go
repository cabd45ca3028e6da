// Package scheduler is the scheduled-session execution engine.
//
// # Overview
//
// The engine periodically evaluates every worktree with an enabled
// schedule, decides due-ness against the worktree's cron expression, and
// spawns a session for each due firing: the prompt template is rendered,
// a session record is created, execution of its first prompt is triggered,
// schedule metadata is advanced, and old scheduled sessions are pruned per
// the retention setting.
//
// # Due-ness and recovery
//
// A firing is due while it is at most one grace period in the past. After
// downtime only the single most recent firing inside the grace window is
// spawned; older firings are skipped forever. There is no catch-up queue.
//
// # Deduplication
//
// The logical firing time (scheduled_run_at, epoch ms) is the dedup key:
// per worktree at most one session exists per exact value. A duplicate
// firing still advances the schedule metadata so it is not re-evaluated on
// every tick.
//
// # Concurrency
//
// Ticks fire on a fixed interval but never overlap: a tick that comes due
// while the previous one is still running is skipped and counted. Within
// a tick, worktrees are processed sequentially; a per-worktree error
// boundary keeps one failing schedule from blocking the rest.
package scheduler
