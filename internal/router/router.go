// Package router decides which classified records are pushed immediately
// and stamps delivered ones as notified.
package router

import (
	"context"
	"time"

	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/internal/notify"
	"aiwatch/internal/store"
	"aiwatch/pkg/logx"
)

// Tier controls how much of a vendor's stream is pushed immediately.
type Tier string

const (
	TierT0 Tier = "t0" // everything
	TierT1 Tier = "t1" // high + medium
	TierT2 Tier = "t2" // high only
)

var tierAllowed = map[Tier]map[model.Importance]bool{
	TierT0: {model.ImportanceHigh: true, model.ImportanceMedium: true, model.ImportanceLow: true},
	TierT1: {model.ImportanceHigh: true, model.ImportanceMedium: true},
	TierT2: {model.ImportanceHigh: true},
}

// routedAllowed applies to posts and to release-routed items whose origin
// is not a configured vendor: high and medium push, low waits for the
// digest.
var routedAllowed = map[model.Importance]bool{
	model.ImportanceHigh:   true,
	model.ImportanceMedium: true,
}

type Router struct {
	st     *store.Store
	fanout *notify.Fanout
	tiers  map[string]Tier
	log    logx.Logger
}

func New(cfg config.ReleasesConfig, st *store.Store, fanout *notify.Fanout, log logx.Logger) *Router {
	tiers := make(map[string]Tier)
	for _, v := range cfg.VendorsT0 {
		tiers[v] = TierT0
	}
	for _, v := range cfg.VendorsT1 {
		tiers[v] = TierT1
	}
	for _, v := range cfg.VendorsT2 {
		tiers[v] = TierT2
	}
	return &Router{
		st:     st,
		fanout: fanout,
		tiers:  tiers,
		log:    log.With(logx.String("comp", "router")),
	}
}

// TierFor returns the configured tier for a vendor; unknown vendors are
// treated as t2.
func (r *Router) TierFor(vendor string) Tier {
	if t, ok := r.tiers[vendor]; ok {
		return t
	}
	return TierT2
}

func (r *Router) shouldPush(kind model.Kind, rec model.Record) bool {
	if !rec.Relevant {
		return false
	}
	if kind == model.KindPost {
		return routedAllowed[rec.Importance]
	}
	// Release-routed blog/sitemap items carry origins outside the vendor
	// list; they get the routed policy rather than the t2 default.
	if _, isVendor := r.tiers[rec.Origin]; !isVendor {
		return routedAllowed[rec.Importance]
	}
	return tierAllowed[r.TierFor(rec.Origin)][rec.Importance]
}

// Dispatch pushes one record if its importance clears the policy for its
// origin, and marks it notified once at least one channel delivered.
// Records held back for the digest return nil without sending.
func (r *Router) Dispatch(ctx context.Context, kind model.Kind, rec model.Record) error {
	if !r.shouldPush(kind, rec) {
		return nil
	}

	if err := r.fanout.NotifyRecord(ctx, kind, rec); err != nil {
		r.log.Error("push failed",
			logx.String("source_id", rec.SourceID), logx.Err(err))
		return err
	}
	if err := r.st.ForKind(kind).MarkNotified(ctx, rec.SourceID, time.Now().UTC()); err != nil {
		r.log.Error("mark notified failed",
			logx.String("source_id", rec.SourceID), logx.Err(err))
		return err
	}
	r.log.Info("pushed record",
		logx.String("source_id", rec.SourceID),
		logx.String("importance", string(rec.Importance)))
	return nil
}
