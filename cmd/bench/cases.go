// README: Bench checks: environment, ride lifecycle, cancel, races, consistency and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"rideflow/internal/infra"
	"rideflow/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

// Pickup and destination are coordinates so the API can dispatch without a
// maps key. The bench driver reports a location next to the pickup.
const (
	benchPickup      = "28.6315,77.2167"
	benchDestination = "28.6129,77.2295"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	tokens *infra.JWTVerifier
	run    string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	tokens, err := infra.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("bench needs the API's jwt secret: %w", err)
	}
	return &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
		run:    fmt.Sprintf("%d", time.Now().UnixNano()),
	}, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
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
		{"Env: Postgres connect", checkPostgres},
		{"Env: Redis connect", checkRedis},
		{"Migration: apply (optional)", applyMigration},
		{"Migration: tables exist", checkTables},
		{"API: health", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
		}},
		{"API: unauthenticated -> 401", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/rides/fare?pickup=a&destination=b", "", nil, http.StatusUnauthorized)
		}},

		{"Location: driver report", func(ctx context.Context, r *Runner) Result {
			return r.reportLocation(ctx, r.driver(1))
		}},
		{"Location: invalid coords -> 400", func(ctx context.Context, r *Runner) Result {
			d := r.driver(1)
			return r.expect(ctx, http.MethodPut, "/api/drivers/"+string(d)+"/location", r.token(types.ActorDriver, d),
				map[string]any{"lat": 123.0, "lng": 456.0, "vehicle_class": "car"}, http.StatusBadRequest)
		}},
		{"Location: other driver -> 403", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/drivers/"+string(r.driver(1))+"/location",
				r.token(types.ActorDriver, r.driver(2)),
				map[string]any{"lat": 28.63, "lng": 77.21, "vehicle_class": "car"}, http.StatusForbidden)
		}},

		{"Pricing: fare quote", func(ctx context.Context, r *Runner) Result {
			path := "/api/rides/fare?pickup=" + benchPickup + "&destination=" + benchDestination
			return r.expect(ctx, http.MethodGet, path, r.token(types.ActorRider, r.rider(1)), nil, http.StatusOK)
		}},
		{"Ride: create (valid)", func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			if _, err := r.createRide(ctx, r.rider(1)); err != nil {
				return fail(err)
			}
			return Result{Status: statusPass, Latency: time.Since(start)}
		}},
		{"Ride: create (missing fields -> 400)", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/rides", r.token(types.ActorRider, r.rider(1)),
				map[string]any{"pickup": benchPickup}, http.StatusBadRequest)
		}},
		{"Ride: create (invalid class -> 400)", func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/rides", r.token(types.ActorRider, r.rider(1)),
				map[string]any{"pickup": benchPickup, "destination": benchDestination,
					"pickup_address": "bench pickup", "destination_address": "bench drop", "vehicle_class": "boat"}, http.StatusBadRequest)
		}},
		{"Ride: full lifecycle", rideLifecycle},
		{"Cancel: rider cancels pending", func(ctx context.Context, r *Runner) Result {
			rider := r.rider(2)
			ride, err := r.createRide(ctx, rider)
			if err != nil {
				return fail(err)
			}
			return r.expect(ctx, http.MethodPost, "/api/rides/"+ride.ID+"/cancel", r.token(types.ActorRider, rider),
				map[string]any{"reason": "bench"}, http.StatusOK)
		}},
		{"Cancel: other rider -> 403", func(ctx context.Context, r *Runner) Result {
			ride, err := r.createRide(ctx, r.rider(3))
			if err != nil {
				return fail(err)
			}
			return r.expect(ctx, http.MethodPost, "/api/rides/"+ride.ID+"/cancel", r.token(types.ActorRider, r.rider(4)),
				nil, http.StatusForbidden)
		}},

		{"Concurrency: many drivers confirm one ride", concurrentConfirm},
		{"Concurrency: confirm vs cancel", confirmVsCancel},
		{"Consistency: status matches last event", checkEventConsistency},

		{"Perf: location update throughput", func(ctx context.Context, r *Runner) Result {
			d := r.driver(9)
			return r.perfLoad(ctx, http.MethodPut, "/api/drivers/"+string(d)+"/location", r.token(types.ActorDriver, d),
				map[string]any{"lat": 28.6315, "lng": 77.2167, "vehicle_class": "auto"})
		}},
		{"Perf: create ride throughput", func(ctx context.Context, r *Runner) Result {
			rider := r.rider(9)
			return r.perfLoad(ctx, http.MethodPost, "/api/rides", r.token(types.ActorRider, rider), createBody())
		}},
	}
}

type rideView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Fare   int64  `json:"fare"`
	OTP    string `json:"otp"`
}

func (r *Runner) rider(n int) types.ID  { return types.ID(fmt.Sprintf("bench-rider-%s-%d", r.run, n)) }
func (r *Runner) driver(n int) types.ID { return types.ID(fmt.Sprintf("bench-driver-%s-%d", r.run, n)) }

func (r *Runner) token(kind types.ActorKind, id types.ID) string {
	t, err := r.tokens.Issue(types.Identity{Kind: kind, ID: id}, time.Hour)
	if err != nil {
		panic(err)
	}
	return t
}

func createBody() map[string]any {
	return map[string]any{
		"pickup":              benchPickup,
		"destination":         benchDestination,
		"pickup_address":      "bench pickup",
		"destination_address": "bench drop",
		"vehicle_class":       "car",
	}
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	status, out, latency, err := r.call(ctx, method, path, token, body)
	if err != nil {
		return fail(err)
	}
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d body=%s", status, want, trim(out))}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func (r *Runner) reportLocation(ctx context.Context, d types.ID) Result {
	return r.expect(ctx, http.MethodPut, "/api/drivers/"+string(d)+"/location", r.token(types.ActorDriver, d),
		map[string]any{"lat": 28.6316, "lng": 77.2168, "vehicle_class": "car"}, http.StatusOK)
}

func (r *Runner) createRide(ctx context.Context, rider types.ID) (rideView, error) {
	status, out, _, err := r.call(ctx, http.MethodPost, "/api/rides", r.token(types.ActorRider, rider), createBody())
	if err != nil {
		return rideView{}, err
	}
	if status != http.StatusCreated {
		return rideView{}, fmt.Errorf("create ride: status=%d body=%s", status, trim(out))
	}
	var v rideView
	if err := json.Unmarshal(out, &v); err != nil {
		return rideView{}, err
	}
	if v.ID == "" || v.Status != "pending" || len(v.OTP) == 0 {
		return rideView{}, fmt.Errorf("create ride: unexpected body %s", trim(out))
	}
	return v, nil
}

func rideLifecycle(ctx context.Context, r *Runner) Result {
	rider, driver := r.rider(5), r.driver(5)
	start := time.Now()
	ride, err := r.createRide(ctx, rider)
	if err != nil {
		return fail(err)
	}
	base := "/api/rides/" + ride.ID
	dtok := r.token(types.ActorDriver, driver)
	steps := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"confirm", http.MethodPost, base + "/confirm", dtok, nil, http.StatusOK},
		{"start wrong otp", http.MethodPost, base + "/start", dtok, map[string]string{"otp": wrongOTP(ride.OTP)}, http.StatusUnprocessableEntity},
		{"start by other driver", http.MethodPost, base + "/start", r.token(types.ActorDriver, r.driver(6)), map[string]string{"otp": ride.OTP}, http.StatusForbidden},
		{"start", http.MethodPost, base + "/start", dtok, map[string]string{"otp": ride.OTP}, http.StatusOK},
		{"cancel ongoing", http.MethodPost, base + "/cancel", r.token(types.ActorRider, rider), nil, http.StatusConflict},
		{"end", http.MethodPost, base + "/end", dtok, nil, http.StatusOK},
		{"end again", http.MethodPost, base + "/end", dtok, nil, http.StatusConflict},
	}
	for _, s := range steps {
		if res := r.expect(ctx, s.method, s.path, s.token, s.body, s.want); res.Status != statusPass {
			res.Note = s.name + ": " + res.Note
			return res
		}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: "ride " + ride.ID}
}

func wrongOTP(otp string) string {
	b := []byte(otp)
	for i := range b {
		b[i] = '0' + (b[i]-'0'+1)%10
	}
	return string(b)
}

func concurrentConfirm(ctx context.Context, r *Runner) Result {
	ride, err := r.createRide(ctx, r.rider(7))
	if err != nil {
		return fail(err)
	}
	var succ, conflict atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := r.token(types.ActorDriver, r.driver(100+i))
			status, _, _, err := r.call(ctx, http.MethodPost, "/api/rides/"+ride.ID+"/confirm", tok, nil)
			if err != nil {
				return
			}
			switch status {
			case http.StatusOK:
				succ.Add(1)
			case http.StatusConflict:
				conflict.Add(1)
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ.Load(), conflict.Load())
	if succ.Load() != 1 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func confirmVsCancel(ctx context.Context, r *Runner) Result {
	rider := r.rider(8)
	ride, err := r.createRide(ctx, rider)
	if err != nil {
		return fail(err)
	}
	var confirmStatus, cancelStatus int
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		confirmStatus, _, _, _ = r.call(ctx, http.MethodPost, "/api/rides/"+ride.ID+"/confirm", r.token(types.ActorDriver, r.driver(8)), nil)
	}()
	go func() {
		defer wg.Done()
		cancelStatus, _, _, _ = r.call(ctx, http.MethodPost, "/api/rides/"+ride.ID+"/cancel", r.token(types.ActorRider, rider), nil)
	}()
	wg.Wait()

	note := fmt.Sprintf("confirm=%d cancel=%d", confirmStatus, cancelStatus)
	// Cancel is legal from both pending and accepted.
	if cancelStatus != http.StatusOK || (confirmStatus != http.StatusOK && confirmStatus != http.StatusConflict) {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return fail(err)
	}
	return Result{Status: statusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fail(err)
	}
	return Result{Status: statusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return fail(err)
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return fail(err)
		}
	}
	return Result{Status: statusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return fail(err)
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return fail(err)
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: strings.Join(tables, ",")}
}

// checkEventConsistency compares each bench ride's status with the to_status
// of its newest event.
func checkEventConsistency(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.status, e.to_status
		FROM rides r
		JOIN LATERAL (
			SELECT to_status FROM ride_state_events
			WHERE ride_id = r.id ORDER BY id DESC LIMIT 1
		) e ON true
		WHERE r.rider_id LIKE $1`, "bench-rider-"+r.run+"-%")
	if err != nil {
		return fail(err)
	}
	defer rows.Close()
	checked := 0
	for rows.Next() {
		var id, status, last string
		if err := rows.Scan(&id, &status, &last); err != nil {
			return fail(err)
		}
		if status != last {
			return Result{Status: statusFail, Note: fmt.Sprintf("ride %s status=%s last_event=%s", id, status, last)}
		}
		checked++
	}
	if err := rows.Err(); err != nil {
		return fail(err)
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("rides=%d", checked)}
}

func (r *Runner) perfLoad(ctx context.Context, method, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, method, path, token, payload)
				if err != nil || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func fail(err error) Result {
	return Result{Status: statusFail, Note: err.Error()}
}

func trim(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
