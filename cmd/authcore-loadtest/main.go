// Command authcore-loadtest measures session cache and gate latency against
// Redis, or an in-process miniredis when no address is given.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mathrand "math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "session key prefix")
		logins      = flag.Int("logins", 1000, "tokens issued for the authenticate phase")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *logins <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, ops and logins must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store, err := session.NewStore(session.NewRedisBackend(client), session.Config{Prefix: *prefix, TTL: 24 * time.Hour})
	if err != nil {
		fmt.Fprintf(os.Stderr, "session store: %v\n", err)
		os.Exit(1)
	}

	tokens := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	seed := runPhase(*concurrency, *sessions, func(i int, _ *mathrand.Rand) error {
		tokens[i] = "tok-" + strconv.Itoa(i)
		return store.Save(ctx, tokens[i], map[string]any{"n": i}, map[string]any{"worker": "seed"})
	})
	fmt.Printf("seeded in %s (failures=%d)\n", time.Since(startSeed).Round(time.Millisecond), seed.failures)

	printStats("get", runPhase(*concurrency, *ops, func(_ int, r *mathrand.Rand) error {
		_, err := store.Get(ctx, tokens[r.Intn(len(tokens))])
		return err
	}))

	printStats("update", runPhase(*concurrency, *ops, func(i int, r *mathrand.Rand) error {
		_, err := store.Update(ctx, tokens[r.Intn(len(tokens))], map[string]any{"seen": i}, nil)
		return err
	}))

	engine, headers, err := loginAll(ctx, client, *prefix, *logins)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	printStats("authenticate", runPhase(*concurrency, *ops, func(_ int, r *mathrand.Rand) error {
		_, err := engine.Authenticate(ctx, headers[r.Intn(len(headers))])
		return err
	}))

	snap := engine.MetricsSnapshot()
	fmt.Printf("gate: success=%d failure=%d\n",
		snap.Counters[authcore.MetricAuthenticateSuccess],
		snap.Counters[authcore.MetricAuthenticateFailure],
	)
}

// loginAll builds a stateful engine on client and issues n tokens.
func loginAll(ctx context.Context, client redis.UniversalClient, prefix string, n int) (*authcore.Engine, []string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, err
	}
	cfg := authcore.DefaultConfig()
	cfg.Token.SigningKey = key
	cfg.Session.Prefix = prefix + "-gate"

	principals := authcore.PrincipalStoreFunc(func(_ context.Context, id string) (authcore.Principal, error) {
		return authcore.Principal{ID: id}, nil
	})
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalStore(principals).
		Build()
	if err != nil {
		return nil, nil, err
	}

	headers := make([]string, n)
	for i := range headers {
		tok, err := engine.Login(ctx, "user-"+strconv.Itoa(i), nil, nil)
		if err != nil {
			engine.Close()
			return nil, nil, err
		}
		headers[i] = tok
	}
	return engine, headers, nil
}

func runPhase(concurrency, ops int, op func(i int, r *mathrand.Rand) error) phaseStats {
	var (
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
		wg        sync.WaitGroup
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mathrand.New(mathrand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := op(i, r); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
