// Package analytics summarizes run history stored in Postgres.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of *pgxpool.Pool the queries need.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
}

type stageSample struct {
	stage    string
	critical bool
	passed   bool
	attempt  int
	ms       float64
}

func querySamples(ctx context.Context, q Querier, since time.Time) ([]stageSample, error) {
	rows, err := q.Query(ctx, `
		SELECT sr.stage, sr.critical, sr.passed, sr.attempt, sr.duration_ms
		FROM stage_results sr
		JOIN iterations it ON it.run_id = sr.run_id AND it.attempt = sr.attempt
		WHERE it.started_at >= $1
		ORDER BY sr.run_id, sr.attempt, sr.position`, since)
	if err != nil {
		return nil, fmt.Errorf("query stage results: %w", err)
	}
	defer rows.Close()

	var out []stageSample
	for rows.Next() {
		var s stageSample
		var ms int64
		if err := rows.Scan(&s.stage, &s.critical, &s.passed, &s.attempt, &ms); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		s.ms = float64(ms)
		out = append(out, s)
	}
	return out, rows.Err()
}

// QueryStageDurations returns average and percentile durations per stage for
// attempts started at or after since.
func QueryStageDurations(ctx context.Context, q Querier, since time.Time) ([]StageDuration, error) {
	samples, err := querySamples(ctx, q, since)
	if err != nil {
		return nil, err
	}
	return stageDurations(samples), nil
}

func stageDurations(samples []stageSample) []StageDuration {
	byStage := make(map[string][]float64)
	for _, s := range samples {
		byStage[s.stage] = append(byStage[s.stage], s.ms)
	}
	var results []StageDuration
	for stage, durations := range byStage {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results
}

// StageFailureRate holds failure stats per stage.
type StageFailureRate struct {
	Stage        string  `json:"stage"`
	Critical     bool    `json:"critical"`
	Total        int     `json:"total"`
	Failed       float64 `json:"failed_pct"`
	FirstAttempt float64 `json:"first_attempt_failed_pct"`
}

// QueryStageFailureRates returns how often each stage fails, overall and on
// the first attempt of a run.
func QueryStageFailureRates(ctx context.Context, q Querier, since time.Time) ([]StageFailureRate, error) {
	samples, err := querySamples(ctx, q, since)
	if err != nil {
		return nil, err
	}
	return failureRates(samples), nil
}

func failureRates(samples []stageSample) []StageFailureRate {
	type counts struct {
		critical                         bool
		total, failed, first, firstFails int
	}
	byStage := make(map[string]*counts)
	for _, s := range samples {
		c, ok := byStage[s.stage]
		if !ok {
			c = &counts{critical: s.critical}
			byStage[s.stage] = c
		}
		c.total++
		if !s.passed {
			c.failed++
		}
		if s.attempt == 1 {
			c.first++
			if !s.passed {
				c.firstFails++
			}
		}
	}
	var results []StageFailureRate
	for stage, c := range byStage {
		results = append(results, StageFailureRate{
			Stage:        stage,
			Critical:     c.critical,
			Total:        c.total,
			Failed:       pct(c.failed, c.total),
			FirstAttempt: pct(c.firstFails, c.first),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results
}

// AttemptDist holds the distribution of attempts per run for one terminal
// status.
type AttemptDist struct {
	Status    string  `json:"status"`
	Total     int     `json:"total"`
	One       float64 `json:"one_attempt_pct"`
	Two       float64 `json:"two_attempts_pct"`
	ThreePlus float64 `json:"three_plus_pct"`
	Avg       float64 `json:"avg_attempts"`
}

type runAttempts struct {
	status   string
	attempts int
}

// QueryAttempts returns how many attempts finished runs needed, by status.
func QueryAttempts(ctx context.Context, q Querier, since time.Time) ([]AttemptDist, error) {
	rows, err := q.Query(ctx, `
		SELECT r.status, COUNT(it.attempt)
		FROM runs r
		JOIN iterations it ON it.run_id = r.id
		WHERE r.status <> 'running' AND r.started_at >= $1
		GROUP BY r.id, r.status`, since)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var runs []runAttempts
	for rows.Next() {
		var r runAttempts
		var n int64
		if err := rows.Scan(&r.status, &n); err != nil {
			return nil, fmt.Errorf("scan attempts: %w", err)
		}
		r.attempts = int(n)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attemptDist(runs), nil
}

func attemptDist(runs []runAttempts) []AttemptDist {
	type counts struct {
		one, two, threePlus, total int
		all                        []float64
	}
	byStatus := make(map[string]*counts)
	for _, r := range runs {
		c, ok := byStatus[r.status]
		if !ok {
			c = &counts{}
			byStatus[r.status] = c
		}
		c.total++
		c.all = append(c.all, float64(r.attempts))
		switch {
		case r.attempts <= 1:
			c.one++
		case r.attempts == 2:
			c.two++
		default:
			c.threePlus++
		}
	}
	var results []AttemptDist
	for status, c := range byStatus {
		results = append(results, AttemptDist{
			Status:    status,
			Total:     c.total,
			One:       pct(c.one, c.total),
			Two:       pct(c.two, c.total),
			ThreePlus: pct(c.threePlus, c.total),
			Avg:       avg(c.all),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Status < results[j].Status
	})
	return results
}

// Throughput holds run counts for one ISO week.
type Throughput struct {
	Period    string `json:"period"`
	Started   int    `json:"started"`
	Accepted  int    `json:"accepted"`
	Exhausted int    `json:"exhausted"`
	Stuck     int    `json:"stuck"`
	Escalated int    `json:"escalated"`
}

// QueryThroughput returns run outcomes grouped by ISO week.
func QueryThroughput(ctx context.Context, q Querier, since time.Time) ([]Throughput, error) {
	rows, err := q.Query(ctx, `
		SELECT to_char(started_at AT TIME ZONE 'UTC', 'IYYY-"W"IW') AS period,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'accepted'),
			COUNT(*) FILTER (WHERE status = 'exhausted'),
			COUNT(*) FILTER (WHERE status = 'stuck'),
			COUNT(*) FILTER (WHERE status = 'escalated')
		FROM runs
		WHERE started_at >= $1
		GROUP BY period
		ORDER BY period`, since)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	var results []Throughput
	for rows.Next() {
		var t Throughput
		var started, accepted, exhausted, stuck, escalated int64
		if err := rows.Scan(&t.Period, &started, &accepted, &exhausted, &stuck, &escalated); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		t.Started, t.Accepted, t.Exhausted, t.Stuck, t.Escalated = int(started), int(accepted), int(exhausted), int(stuck), int(escalated)
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
