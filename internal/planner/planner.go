// Package planner learns, per decision key, which of several equivalent
// execution strategies is fastest, using Thompson sampling.
package planner

import (
	"math/rand"
	"sync"
	"time"
)

type Planner struct {
	keys         sync.Map // string -> *KeyPlan
	initialGuess time.Duration
	rngPool      sync.Pool
}

// New returns a planner whose strategies start from initialGuess.
func New(initialGuess time.Duration) *Planner {
	p := &Planner{initialGuess: initialGuess}
	p.rngPool.New = func() any {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// GetKeyPlan returns the plan for key, creating it on first use.
func (p *Planner) GetKeyPlan(key string) *KeyPlan {
	kp, _ := p.keys.LoadOrStore(key, &KeyPlan{
		stats:   map[string]*ThompsonStats{},
		planner: p,
	})
	return kp.(*KeyPlan)
}

// KeyPlan holds the beliefs about the strategies of one key.
type KeyPlan struct {
	mu      sync.Mutex
	stats   map[string]*ThompsonStats
	planner *Planner
}

// Select samples every strategy's belief and returns the fastest sample.
func (kp *KeyPlan) Select(strategies []string) string {
	rng := kp.planner.rngPool.Get().(*rand.Rand)
	defer kp.planner.rngPool.Put(rng)

	kp.mu.Lock()
	defer kp.mu.Unlock()

	best := ""
	bestSample := 0.0
	for _, name := range strategies {
		ts, ok := kp.stats[name]
		if !ok {
			ts = NewThompsonStats(kp.planner.initialGuess)
			kp.stats[name] = ts
		}
		s := ts.Sample(rng)
		if best == "" || s < bestSample {
			best, bestSample = name, s
		}
	}
	return best
}

// Observe records how long strategy took.
func (kp *KeyPlan) Observe(strategy string, d time.Duration) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	ts, ok := kp.stats[strategy]
	if !ok {
		ts = NewThompsonStats(kp.planner.initialGuess)
		kp.stats[strategy] = ts
	}
	ts.Update(d)
}

// Runs returns how often each strategy was observed.
func (kp *KeyPlan) Runs() map[string]int64 {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	out := make(map[string]int64, len(kp.stats))
	for k, v := range kp.stats {
		out[k] = v.Runs
	}
	return out
}
