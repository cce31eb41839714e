package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/internal/build"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
)

var (
	plansChosenCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "plans_chosen_count",
		Help:      "The total number of query plans chosen, by iterator and scorer.",
	}, []string{"iterator", "scorer"})

	planCacheCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "plan_cache_count",
		Help:      "The total number of plan cache lookups, by result.",
	}, []string{"result"})
)

// PlanCache remembers the orientation chosen for a plan shape. Only the
// orientation is cached; every request gets freshly built nodes and edges.
type PlanCache struct {
	cache *theine.Cache[uint64, uint64]
	ttl   time.Duration
}

// NewPlanCache returns a cache of at most size shapes, each kept for ttl.
func NewPlanCache(size int64, ttl time.Duration) (*PlanCache, error) {
	c, err := theine.NewBuilder[uint64, uint64](size).Build()
	if err != nil {
		return nil, fmt.Errorf("building plan cache: %w", err)
	}
	return &PlanCache{cache: c, ttl: ttl}, nil
}

func (c *PlanCache) get(key uint64) (uint64, bool) {
	o, ok := c.cache.Get(key)
	if ok {
		planCacheCounter.WithLabelValues("hit").Inc()
	} else {
		planCacheCounter.WithLabelValues("miss").Inc()
	}
	return o, ok
}

func (c *PlanCache) set(key, orientation uint64) {
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, orientation, 1, c.ttl)
		return
	}
	c.cache.Set(key, orientation, 1)
}

// Close releases the cache.
func (c *PlanCache) Close() {
	c.cache.Close()
}

// Chooser picks the best plan among the orientations its iterator yields.
type Chooser struct {
	iterator Iterator
	scorer   Scorer
	cache    *PlanCache
	logger   logger.Logger
}

// ChooserOption configures a Chooser.
type ChooserOption func(*Chooser)

// WithPlanCache makes the chooser remember orientations in c.
func WithPlanCache(c *PlanCache) ChooserOption {
	return func(ch *Chooser) {
		ch.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ChooserOption {
	return func(ch *Chooser) {
		ch.logger = l
	}
}

// NewChooser returns a chooser using the given strategy and scorer.
func NewChooser(it Iterator, sc Scorer, opts ...ChooserOption) *Chooser {
	c := &Chooser{
		iterator: it,
		scorer:   sc,
		logger:   logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Choose returns the lowest cost plan over minimal, or over the whole
// composite entity when minimal is nil. The root is always part of the plan.
// Ties keep the plan found first.
func (c *Chooser) Choose(root *metadata.CompositeEntity, minimal []*metadata.CompositeEntity, q query.Expression) (*QueryPlan, error) {
	s, err := newSkeleton(root, minimal, q)
	if err != nil {
		return nil, err
	}

	var key uint64
	if c.cache != nil {
		key = c.cacheKey(s, q)
		if o, ok := c.cache.get(key); ok {
			if p, ok := s.materialize(o); ok {
				p.score = c.scorer.Score(p)
				return p, nil
			}
		}
	}

	var best *QueryPlan
	for o := range c.iterator.Orientations(s.edgeCount()) {
		p, ok := s.materialize(o)
		if !ok {
			continue
		}
		p.score = c.scorer.Score(p)
		if best == nil || p.score < best.score {
			best = p
		}
		if c.iterator.StopAtFirst() {
			break
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no legal orientation over %d entities of %s", mediatorErrors.ErrNoValidPlan, len(s.members), root)
	}

	plansChosenCounter.WithLabelValues(c.iterator.Name(), c.scorer.Name()).Inc()
	if c.cache != nil {
		c.cache.set(key, best.orientation)
	}
	c.logger.Debug("query plan chosen",
		zap.String("iterator", c.iterator.Name()),
		zap.String("scorer", c.scorer.Name()),
		zap.Float64("cost", float64(best.score)),
		zap.String("plan", best.String()))
	return best, nil
}

func (c *Chooser) cacheKey(s *skeleton, q query.Expression) uint64 {
	var b strings.Builder
	b.WriteString(c.iterator.Name())
	b.WriteByte('|')
	b.WriteString(c.scorer.Name())
	for _, m := range s.members {
		b.WriteByte('|')
		b.WriteString(m.String())
	}
	b.WriteByte('|')
	b.WriteString(query.Shape(q))
	return xxhash.Sum64String(b.String())
}
