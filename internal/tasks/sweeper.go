// Package tasks runs the background maintenance jobs: eager eviction of
// expired bans/mutes and idle limiter buckets, plus audit log retention.
package tasks

import (
	"context"
	"log"
	"time"

	"anonchat/internal/abuse"
	"anonchat/internal/repository"

	"github.com/robfig/cron/v3"
)

type Sweeper struct {
	bans     *abuse.List
	mutes    *abuse.List
	limiters []*abuse.Limiter

	audit     repository.AuditRepo
	retention time.Duration

	cron *cron.Cron
}

func NewSweeper(bans, mutes *abuse.List, limiters []*abuse.Limiter, audit repository.AuditRepo, retention time.Duration) *Sweeper {
	return &Sweeper{
		bans:      bans,
		mutes:     mutes,
		limiters:  limiters,
		audit:     audit,
		retention: retention,
	}
}

func (s *Sweeper) Start() {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc("*/5 * * * *", s.sweepOverlays); err != nil {
		log.Printf("[WORKER] Error scheduling overlay sweep: %v", err)
		return
	}

	if _, err := s.cron.AddFunc("0 3 * * *", s.trimAudit); err != nil {
		log.Printf("[WORKER] Error scheduling audit trim: %v", err)
		return
	}

	s.cron.Start()
	log.Println("[WORKER] Sweeper scheduled")
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Sweeper) sweepOverlays() {
	bans := s.bans.Purge()
	mutes := s.mutes.Purge()
	buckets := 0
	for _, l := range s.limiters {
		buckets += l.PurgeIdle()
	}
	if bans+mutes+buckets > 0 {
		log.Printf("[WORKER] Sweep removed %d bans, %d mutes, %d idle buckets", bans, mutes, buckets)
	}
}

func (s *Sweeper) trimAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	removed, err := s.audit.DeleteBefore(ctx, time.Now().Add(-s.retention))
	if err != nil {
		log.Printf("[WORKER] Audit trim failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[WORKER] Audit trim removed %d rows", removed)
	}
}
