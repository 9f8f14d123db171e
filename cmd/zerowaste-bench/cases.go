// README: Bench cases: environment, schema, the donation/request flow, the concurrent accept race and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"zerowaste/internal/infra"
	"zerowaste/migrations"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	donorToken     string
	recipientToken string
	donationID     string
	requestID      string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		if rdb, err := infra.NewRedis(ctx, r.cfg.RedisAddr, "", 0); err == nil {
			r.redis = rdb
			defer rdb.Close()
		}
	}
	if r.cfg.JWTSecret != "" {
		stamp := time.Now().UnixNano()
		secret := []byte(r.cfg.JWTSecret)
		r.donorToken, _ = infra.SignJWT(secret, fmt.Sprintf("bench-donor-%d", stamp), "donor", time.Hour)
		r.recipientToken, _ = infra.SignJWT(secret, fmt.Sprintf("bench-recipient-%d", stamp), "recipient", time.Hour)
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "db not configured or unreachable"}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not configured or unreachable"}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Schema: tables exist", Run: checkTables},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, nil, http.StatusOK)
		}},
		{Name: "Auth: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/donations", "", nil, nil, http.StatusUnauthorized)
		}},
		r.authed("Profile: donor", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/users/me", r.donorToken, map[string]any{
				"name": "Bench Donor", "role": "donor",
				"location": map[string]float64{"lng": 121.565, "lat": 25.033},
			}, nil, http.StatusOK)
		}),
		r.authed("Profile: recipient", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/users/me", r.recipientToken, map[string]any{
				"name": "Bench Recipient", "role": "recipient",
				"location": map[string]float64{"lng": 121.5318, "lat": 25.0478},
			}, nil, http.StatusOK)
		}),
		r.authed("Donation: create perishable", func(ctx context.Context, r *Runner) Result {
			var out struct {
				ID string `json:"id"`
			}
			res := r.expect(ctx, http.MethodPost, "/api/donations", r.donorToken, map[string]any{
				"kind": "perishable", "title": "Bench bread", "quantity": "3", "unit": "loaf",
				"location":   map[string]float64{"lng": 121.565, "lat": 25.033},
				"expires_at": time.Now().Add(24 * time.Hour).UTC(),
			}, &out, http.StatusCreated)
			r.donationID = out.ID
			return res
		}),
		r.authed("Donation: invalid coords -> 400", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/donations", r.donorToken, map[string]any{
				"kind": "reusable", "title": "Lamp", "quantity": "1", "condition": "good",
				"location": map[string]float64{"lng": 456, "lat": 123},
			}, nil, http.StatusBadRequest)
		}),
		r.needs("Request: create", func(r *Runner) bool { return r.donationID != "" }, func(ctx context.Context, r *Runner) Result {
			var out struct {
				ID string `json:"id"`
			}
			res := r.expect(ctx, http.MethodPost, "/api/requests", r.recipientToken, map[string]any{
				"donation_id": r.donationID, "message": "bench",
			}, &out, http.StatusCreated)
			r.requestID = out.ID
			return res
		}),
		r.needs("Request: duplicate active -> 409", func(r *Runner) bool { return r.requestID != "" }, func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/requests", r.recipientToken, map[string]any{
				"donation_id": r.donationID,
			}, nil, http.StatusConflict)
		}),
		r.needs("Match: recipients for donation", func(r *Runner) bool { return r.donationID != "" }, func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/matches/donations/"+r.donationID+"/recipients", r.donorToken, nil, nil, http.StatusOK)
		}),
		r.needs("Concurrency: one accept wins", func(r *Runner) bool { return r.requestID != "" }, concurrentAccept),
		r.needs("Request: complete", func(r *Runner) bool { return r.requestID != "" }, func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/requests/"+r.requestID+"/complete", r.recipientToken, nil, nil, http.StatusOK)
		}),
		r.needs("Request: complete twice -> 409", func(r *Runner) bool { return r.requestID != "" }, func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/requests/"+r.requestID+"/complete", r.recipientToken, nil, nil, http.StatusConflict)
		}),
		r.needs("Consistency: request events recorded", func(r *Runner) bool { return r.requestID != "" && r.db != nil }, func(ctx context.Context, r *Runner) Result {
			var n int
			err := r.db.QueryRow(ctx,
				"SELECT COUNT(*) FROM status_events WHERE entity_type = 'request' AND entity_id = $1", r.requestID,
			).Scan(&n)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if n != 3 {
				return Result{Status: statusFail, Note: fmt.Sprintf("events=%d want 3", n)}
			}
			return Result{Status: statusPass}
		}),
		r.authed("Perf: list donations throughput", func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/donations?limit=20", r.recipientToken)
		}),
	}
}

// authed skips cases that need a signed token when no secret was given.
func (r *Runner) authed(name string, run func(ctx context.Context, r *Runner) Result) TestCase {
	return r.needs(name, func(r *Runner) bool { return r.donorToken != "" }, run)
}

func (r *Runner) needs(name string, ready func(r *Runner) bool, run func(ctx context.Context, r *Runner) Result) TestCase {
	return TestCase{Name: name, Run: func(ctx context.Context, r *Runner) Result {
		if r.donorToken == "" || !ready(r) {
			return Result{Status: statusSkip, Note: "prerequisite missing"}
		}
		return run(ctx, r)
	}}
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return r.httpc.Do(req)
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body, out any, want int) Result {
	start := time.Now()
	resp, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d body=%s", resp.StatusCode, bytes.TrimSpace(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Result{Status: statusFail, Latency: latency, Note: "decode: " + err.Error()}
		}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
}

var createTable = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		for _, m := range createTable.FindAllStringSubmatch(string(b), -1) {
			var exists bool
			err := r.db.QueryRow(ctx,
				"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", m[1],
			).Scan(&exists)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if !exists {
				return Result{Status: statusFail, Note: "missing table: " + m[1]}
			}
		}
	}
	return Result{Status: statusPass}
}

// concurrentAccept releases every accept at once; exactly one may succeed and
// the rest must see 409 (or 429 once the caller's bucket is empty).
func concurrentAccept(ctx context.Context, r *Runner) Result {
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		ok       int
		conflict int
		limited  int
		other    []int
	)
	path := "/api/requests/" + r.requestID + "/accept"
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := r.do(ctx, http.MethodPost, path, r.donorToken, map[string]any{"message": "bench"})
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case resp.StatusCode == http.StatusOK:
				ok++
			case resp.StatusCode == http.StatusConflict:
				conflict++
			case resp.StatusCode == http.StatusTooManyRequests:
				limited++
			default:
				other = append(other, resp.StatusCode)
			}
		}()
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d rate_limited=%d other=%v", ok, conflict, limited, other)
	if ok == 1 && len(other) == 0 {
		return Result{Status: statusPass, Note: note}
	}
	return Result{Status: statusFail, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path, token string) Result {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	var count, errCount, limited atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				resp, err := r.do(gctx, http.MethodGet, path, token, nil)
				if err != nil {
					if gctx.Err() == nil {
						errCount.Add(1)
					}
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusTooManyRequests {
					limited.Add(1)
				}
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d rate_limited=%d", rps, errCount.Load(), limited.Load())}
}
