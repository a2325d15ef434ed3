// Command bench drives a Zipf-distributed read/write mix against the cache
// and prints throughput, hit rate and removal counts per cause. It can also
// serve pprof and Prometheus endpoints while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/tinycache/cache"
	pmet "github.com/IvanBrykalov/tinycache/metrics/prom"
	"github.com/IvanBrykalov/tinycache/policy"
	"github.com/IvanBrykalov/tinycache/policy/lru"
	"github.com/IvanBrykalov/tinycache/policy/twoq"
	"github.com/IvanBrykalov/tinycache/policy/wtinylfu"
)

type config struct {
	capacity int
	shards   int
	policy   string
	ttl, tti time.Duration

	workers  int
	duration time.Duration
	readPct  int

	keys    uint64
	zipfS   float64
	zipfV   float64
	seed    int64
	preload int

	pprofAddr   string
	metricsAddr string
}

func parseFlags() config {
	var cfg config
	var keys int
	flag.IntVar(&cfg.capacity, "cap", 100_000, "cache capacity (entries)")
	flag.IntVar(&cfg.shards, "shards", 0, "map stripes (0=auto)")
	flag.StringVar(&cfg.policy, "policy", "tinylfu", "eviction policy: tinylfu | lru | 2q")
	flag.DurationVar(&cfg.ttl, "ttl", 0, "time-to-live (0 = never)")
	flag.DurationVar(&cfg.tti, "tti", 0, "time-to-idle (0 = never)")
	flag.IntVar(&cfg.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "benchmark duration")
	flag.IntVar(&cfg.readPct, "reads", 80, "read percentage [0..100]")
	flag.IntVar(&keys, "keys", 1_000_000, "keyspace size")
	flag.Float64Var(&cfg.zipfS, "zipf_s", 1.1, "Zipf s > 1 (skew)")
	flag.Float64Var(&cfg.zipfV, "zipf_v", 1.0, "Zipf v")
	flag.Int64Var(&cfg.seed, "seed", time.Now().UnixNano(), "random seed")
	flag.IntVar(&cfg.preload, "preload", 0, "preload entries (0 = cap/2)")
	flag.StringVar(&cfg.pprofAddr, "pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	flag.StringVar(&cfg.metricsAddr, "http", ":8080", "serve Prometheus metrics at addr; empty = disabled")
	flag.Parse()

	cfg.keys = uint64(max(keys, 1))
	cfg.workers = max(cfg.workers, 1)
	if cfg.preload == 0 {
		cfg.preload = cfg.capacity / 2
	}
	return cfg
}

func newPolicy(name string, capacity int) (policy.Policy, error) {
	switch name {
	case "tinylfu":
		return wtinylfu.Default(), nil
	case "lru":
		return lru.New(), nil
	case "2q":
		return twoq.New(capacity/4, capacity/2), nil
	default:
		return nil, fmt.Errorf("unknown policy %q (use tinylfu, lru or 2q)", name)
	}
}

// removals counts listener notifications per cause.
type removals [cache.CauseExpired + 1]atomic.Uint64

func (r *removals) listen(_, _ string, cause cache.RemovalCause) { r[cause].Add(1) }

// stats are one worker's counters, summed after the run.
type stats struct {
	reads, writes, hits uint64
}

func (s *stats) add(o stats) {
	s.reads += o.reads
	s.writes += o.writes
	s.hits += o.hits
}

// worker issues operations until ctx is done. rand.Rand is not safe for
// concurrent use, so every worker owns its generator.
func worker(ctx context.Context, c cache.Cache[string, string], cfg config, id int) stats {
	r := rand.New(rand.NewSource(cfg.seed + int64(id)*9973))
	zipf := rand.NewZipf(r, cfg.zipfS, cfg.zipfV, cfg.keys-1)

	var st stats
	for i := 0; ; i++ {
		// poll ctx every 256 ops
		if i&255 == 0 && ctx.Err() != nil {
			return st
		}
		k := "k:" + strconv.FormatUint(zipf.Uint64(), 10)
		if r.Intn(100) < cfg.readPct {
			st.reads++
			if _, ok := c.Get(k); ok {
				st.hits++
			}
			continue
		}
		st.writes++
		c.Insert(k, "v"+strconv.Itoa(i))
	}
}

func serve(name, addr string) {
	log.Printf("%s: serving at %s", name, addr)
	log.Println(http.ListenAndServe(addr, nil))
}

func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go serve("pprof", cfg.pprofAddr)
	}
	metrics := pmet.New(nil, "tinycache", "bench", prometheus.Labels{"policy": cfg.policy})
	if cfg.metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go serve("metrics", cfg.metricsAddr)
	}

	pol, err := newPolicy(cfg.policy, cfg.capacity)
	if err != nil {
		log.Fatal(err)
	}
	var removed removals
	c, err := cache.New(cache.Options[string, string]{
		Capacity:        cfg.capacity,
		Shards:          cfg.shards,
		TimeToLive:      cfg.ttl,
		TimeToIdle:      cfg.tti,
		Policy:          pol,
		Metrics:         metrics,
		RemovalListener: removed.listen,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer func() { _ = c.Close() }()

	for i := 0; i < cfg.preload; i++ {
		c.Insert("k:"+strconv.Itoa(i), "preload")
	}
	c.RunPendingTasks()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	results := make([]stats, cfg.workers)
	var g errgroup.Group
	start := time.Now()
	for w := range cfg.workers {
		g.Go(func() error {
			results[w] = worker(ctx, c, cfg, w)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)
	c.RunPendingTasks()

	var total stats
	for _, st := range results {
		total.add(st)
	}
	ops := total.reads + total.writes
	hitRate := 0.0
	if total.reads > 0 {
		hitRate = float64(total.hits) / float64(total.reads) * 100
	}

	fmt.Printf("policy=%s cap=%d shards=%d workers=%d keys=%d dur=%v seed=%d\n",
		cfg.policy, cfg.capacity, cfg.shards, cfg.workers, cfg.keys, elapsed, cfg.seed)
	fmt.Printf("ops=%d (%.0f ops/s) reads=%d writes=%d hit-rate=%.2f%%\n",
		ops, float64(ops)/elapsed.Seconds(), total.reads, total.writes, hitRate)
	fmt.Printf("entries=%d weight=%d\n", c.EntryCount(), c.WeightedSize())
	for cause := cache.CauseExplicit; cause <= cache.CauseExpired; cause++ {
		fmt.Printf("removed[%s]=%d\n", cause, removed[cause].Load())
	}
}
