package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/jobs"
)

// Drives a running api-server with a mixed workload of schedule, cancel and
// availability jobs, deliberately colliding on a small set of slots so the
// lock manager's contention behavior shows up in the report.
type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Professionals int
	Days          int
	SlotsPerDay   int
	PollEvery     time.Duration
	PollTimeout   time.Duration
}

type OperationMetrics struct {
	mu        sync.Mutex
	Total     int64
	Success   int64
	Conflict  int64 // terminal lock_timeout
	Error     int64
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.Total++
	switch {
	case success:
		om.Success++
	case conflict:
		om.Conflict++
	default:
		om.Error++
	}
	om.Latencies = append(om.Latencies, latency)
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	sorted := make([]time.Duration, len(om.Latencies))
	copy(sorted, om.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))
	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[min(len(sorted)*95/100, len(sorted)-1)]
	return avg, p50, p95
}

type Simulator struct {
	cfg    SimConfig
	client *http.Client
	log    *zap.Logger

	schedule OperationMetrics
	cancel   OperationMetrics
	check    OperationMetrics
}

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	cfg := loadSimConfig()
	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers))

	sim := &Simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	return SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Professionals: getInt("SIM_PROFESSIONALS", 3),
		Days:          getInt("SIM_DAYS", 5),
		SlotsPerDay:   getInt("SIM_SLOTS_PER_DAY", 8),
		PollEvery:     getDuration("SIM_POLL_EVERY", 200*time.Millisecond),
		PollTimeout:   getDuration("SIM_POLL_TIMEOUT", 2*time.Minute),
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		switch r := rng.Float64(); {
		case r < 0.5:
			s.runJob(ctx, &s.schedule, jobs.JobSchedule, s.slotArgs(rng, workerID))
		case r < 0.7:
			s.runJob(ctx, &s.cancel, jobs.JobCancel, s.slotArgs(rng, workerID))
		default:
			s.runJob(ctx, &s.check, jobs.JobCheckAvailability, jobs.Args{
				"professional": s.professional(rng),
				"date":         s.date(rng),
			})
		}
	}
}

// slotArgs picks from a deliberately tiny identity space so workers collide.
func (s *Simulator) slotArgs(rng *rand.Rand, workerID int) jobs.Args {
	return jobs.Args{
		"professional": s.professional(rng),
		"date":         s.date(rng),
		"slot_time":    fmt.Sprintf("%02d:00", 8+rng.Intn(s.cfg.SlotsPerDay)),
		"patient_name": fmt.Sprintf("Sim Patient %d", workerID),
		"national_id":  fmt.Sprintf("%011d", workerID),
	}
}

func (s *Simulator) professional(rng *rand.Rand) string {
	return fmt.Sprintf("Dr. Sim %d", rng.Intn(s.cfg.Professionals))
}

func (s *Simulator) date(rng *rand.Rand) string {
	return time.Now().AddDate(0, 0, 1+rng.Intn(s.cfg.Days)).Format("02/01/2006")
}

// runJob submits one job and polls it to a terminal status, recording the
// end-to-end latency.
func (s *Simulator) runJob(ctx context.Context, om *OperationMetrics, name string, args jobs.Args) {
	start := time.Now()

	id, err := s.submit(ctx, name, args)
	if err != nil {
		om.Record(time.Since(start), false, false)
		return
	}

	rec, err := s.pollTerminal(ctx, id)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return
	}

	switch {
	case rec.Status == jobs.StatusSucceeded:
		om.Record(latency, true, false)
	case rec.Error != nil && rec.Error.Code == jobs.CodeLockTimeout:
		om.Record(latency, false, true)
	default:
		om.Record(latency, false, false)
	}
}

func (s *Simulator) submit(ctx context.Context, name string, args jobs.Args) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{"name": name, "args": args})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submit returned %d", resp.StatusCode)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (s *Simulator) pollTerminal(ctx context.Context, id string) (*jobs.Record, error) {
	deadline := time.Now().Add(s.cfg.PollTimeout)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIBaseURL+"/v1/jobs/"+id, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}

		var rec jobs.Record
		err = json.NewDecoder(resp.Body).Decode(&rec)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if rec.Status == jobs.StatusSucceeded || rec.Status == jobs.StatusFailed {
			return &rec, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s never finished", id)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.PollEvery):
		}
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println()
	fmt.Println("SIMULATION REPORT")
	fmt.Printf("duration=%s workers=%d\n\n", s.cfg.Duration, s.cfg.Workers)

	printOperationReport("schedule", &s.schedule)
	printOperationReport("cancel", &s.cancel)
	printOperationReport("check-availability", &s.check)
}

func printOperationReport(name string, om *OperationMetrics) {
	om.mu.Lock()
	total, success, conflict, errs := om.Total, om.Success, om.Conflict, om.Error
	om.mu.Unlock()
	if total == 0 {
		return
	}

	avg, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  total=%d success=%d (%.1f%%)\n", total, success, pct(success, total))
	if conflict > 0 {
		fmt.Printf("  lock conflicts=%d (%.1f%%)\n", conflict, pct(conflict, total))
	}
	if errs > 0 {
		fmt.Printf("  errors=%d (%.1f%%)\n", errs, pct(errs, total))
	}
	fmt.Printf("  latency avg=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

func pct(n, total int64) float64 {
	return float64(n) / float64(total) * 100
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
