// Package discovery resolves configured market slugs into outcome-token
// pairs and caches the result between runs.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

const (
	// DefaultConcurrency bounds parallel Gamma lookups.
	DefaultConcurrency = 20
	// DefaultCacheTTL is how long a cached discovery is used as is.
	DefaultCacheTTL = 2 * time.Hour
)

// MarketSource looks markets up by slug.
type MarketSource interface {
	LookupMarket(ctx context.Context, slug string) (polymarket.APIMarket, error)
	SlugsWithPrefix(ctx context.Context, prefixes []string, maxPages int) ([]string, error)
}

// Config controls one discovery run.
type Config struct {
	// Slugs are the markets to resolve. When empty, open markets whose
	// slug starts with an enabled league prefix are searched instead.
	Slugs []string
	// Leagues restricts discovery to these league codes or prefixes.
	// Empty means all.
	Leagues     []string
	Concurrency int
	CacheTTL    time.Duration
	// Force ignores the cache.
	Force bool
	// SearchPages bounds the prefix search. Zero means no limit.
	SearchPages int
}

// Result is the outcome of a discovery run.
type Result struct {
	Pairs     []domain.MarketPair
	Found     int // pairs resolved by this run's lookups
	Missing   int // slugs the API does not know or that are closed
	Errors    []string
	FromCache bool
}

// Discoverer runs discovery against a market source with an optional cache.
type Discoverer struct {
	src    MarketSource
	cache  domain.DiscoveryCache
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Discoverer. cache may be nil.
func New(src MarketSource, cache domain.DiscoveryCache, cfg Config, logger *slog.Logger) *Discoverer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		src:    src,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "discovery")),
	}
}

// Discover returns the market pairs to trade.
//
// A fresh cache is used directly. A stale cache is refreshed incrementally:
// only slugs it does not know are looked up, and the merged set is saved
// again. Without a cache, or with Force, every slug is looked up.
func (d *Discoverer) Discover(ctx context.Context) (Result, error) {
	if d.cache == nil || d.cfg.Force {
		if d.cfg.Force {
			d.logger.Info("forced full discovery, ignoring cache")
		}
		return d.full(ctx)
	}

	snap, err := d.cache.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		d.logger.Info("no discovery cache, doing full discovery")
		return d.full(ctx)
	case err != nil:
		d.logger.Warn("discovery cache unreadable, doing full discovery", slog.String("error", err.Error()))
		return d.full(ctx)
	}

	age := snap.Age(d.now())
	if age <= d.cfg.CacheTTL {
		d.logger.Info("loaded pairs from cache",
			slog.Int("pairs", len(snap.Pairs)),
			slog.Duration("age", age.Round(time.Second)),
		)
		return Result{Pairs: d.filter(snap.Pairs), FromCache: true}, nil
	}
	d.logger.Info("discovery cache expired, refreshing incrementally", slog.Duration("age", age.Round(time.Second)))
	return d.incremental(ctx, snap)
}

func (d *Discoverer) full(ctx context.Context) (Result, error) {
	slugs, res, err := d.candidates(ctx)
	if err != nil {
		return res, err
	}
	d.lookupAll(ctx, slugs, &res)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(res.Pairs) > 0 {
		d.save(ctx, res.Pairs)
	}
	return res, nil
}

func (d *Discoverer) incremental(ctx context.Context, snap domain.DiscoverySnapshot) (Result, error) {
	slugs, res, err := d.candidates(ctx)
	if err != nil {
		return res, err
	}
	fresh := slugs[:0]
	for _, s := range slugs {
		if !snap.HasSlug(s) {
			fresh = append(fresh, s)
		}
	}
	d.lookupAll(ctx, fresh, &res)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	known := make(map[string]struct{}, len(snap.Pairs))
	merged := make([]domain.MarketPair, 0, len(snap.Pairs)+len(res.Pairs))
	for _, p := range snap.Pairs {
		known[p.Slug] = struct{}{}
		merged = append(merged, p)
	}
	added := 0
	for _, p := range res.Pairs {
		if _, ok := known[p.Slug]; ok {
			continue
		}
		known[p.Slug] = struct{}{}
		merged = append(merged, p)
		added++
	}
	if added > 0 {
		d.logger.Info("found new market pairs", slog.Int("new", added), slog.Int("total", len(merged)))
	} else {
		d.logger.Info("no new markets, using cached pairs", slog.Int("total", len(merged)))
	}
	// Saving either way resets the TTL.
	d.save(ctx, merged)

	res.Pairs = d.filter(merged)
	return res, nil
}

// candidates returns the deduplicated slugs this run considers.
func (d *Discoverer) candidates(ctx context.Context) ([]string, Result, error) {
	var res Result
	filter := newLeagueFilter(d.cfg.Leagues)

	raw := d.cfg.Slugs
	if len(raw) == 0 {
		d.logger.Warn("no market slugs configured, searching open markets by league prefix")
		found, err := d.src.SlugsWithPrefix(ctx, searchPrefixes(d.cfg.Leagues), d.cfg.SearchPages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, res, ctx.Err()
			}
			res.Errors = append(res.Errors, fmt.Sprintf("search failed: %v", err))
		}
		raw = found
	}

	seen := make(map[string]struct{}, len(raw))
	slugs := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if !filter.allows(s) {
			d.logger.Debug("slug outside enabled leagues", slog.String("slug", s))
			continue
		}
		slugs = append(slugs, s)
	}
	return slugs, res, nil
}

// lookupAll resolves slugs concurrently and appends to res in slug order.
func (d *Discoverer) lookupAll(ctx context.Context, slugs []string, res *Result) {
	if len(slugs) == 0 {
		return
	}
	type outcome struct {
		pair    domain.MarketPair
		ok      bool
		missing bool
		err     error
	}
	out := make([]outcome, len(slugs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, slug := range slugs {
		g.Go(func() error {
			m, err := d.src.LookupMarket(gctx, slug)
			var o outcome
			switch {
			case errors.Is(err, domain.ErrNotFound):
				o.missing = true
			case err != nil:
				o.err = err
			case !m.Tradable():
				o.missing = true
			default:
				o.pair, o.err = m.ToMarketPair(LeagueOf(slug))
				o.ok = o.err == nil
			}
			out[i] = o
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range out {
		switch {
		case o.ok:
			res.Pairs = append(res.Pairs, o.pair)
			res.Found++
		case o.missing:
			d.logger.Warn("market not found or closed", slog.String("slug", slugs[i]))
			res.Missing++
		case o.err != nil:
			d.logger.Warn("market lookup failed", slog.String("slug", slugs[i]), slog.String("error", o.err.Error()))
			res.Errors = append(res.Errors, fmt.Sprintf("lookup %s: %v", slugs[i], o.err))
		}
	}
	d.logger.Info("discovery lookups done",
		slog.Int("slugs", len(slugs)),
		slog.Int("found", res.Found),
		slog.Int("missing", res.Missing),
		slog.Int("errors", len(res.Errors)),
	)
}

// filter drops cached pairs outside the enabled leagues.
func (d *Discoverer) filter(pairs []domain.MarketPair) []domain.MarketPair {
	f := newLeagueFilter(d.cfg.Leagues)
	if f == nil {
		return pairs
	}
	out := make([]domain.MarketPair, 0, len(pairs))
	for _, p := range pairs {
		if f.allows(p.Slug) {
			out = append(out, p)
		}
	}
	return out
}

func (d *Discoverer) save(ctx context.Context, pairs []domain.MarketPair) {
	if d.cache == nil {
		return
	}
	snap := domain.DiscoverySnapshot{
		TimestampSecs: d.now().Unix(),
		Pairs:         pairs,
		KnownSlugs:    make([]string, 0, len(pairs)),
	}
	for _, p := range pairs {
		snap.KnownSlugs = append(snap.KnownSlugs, p.Slug)
	}
	if err := d.cache.Save(ctx, snap); err != nil {
		d.logger.Warn("failed to save discovery cache", slog.String("error", err.Error()))
		return
	}
	d.logger.Info("saved pairs to cache", slog.Int("pairs", len(pairs)))
}
