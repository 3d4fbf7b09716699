package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/helpers/utils"
	"github.com/address-normalizer/internal/pipeline"
)

// Job states.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusDone      = "done"
	JobStatusCancelled = "cancelled"
)

// DefaultJobRetention is how long a finished job stays queryable.
const DefaultJobRetention = time.Hour

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotFinished = errors.New("job not finished")
	ErrEmptyAddress   = errors.New("address must not be empty")
)

// JobStatus is the observable state of a batch job.
type JobStatus struct {
	JobID              string            `json:"job_id"`
	Status             string            `json:"status"`
	Progress           float64           `json:"progress"`
	Processed          int               `json:"processed"`
	Total              int               `json:"total"`
	EstimatedRemaining int               `json:"estimated_remaining"`
	Message            string            `json:"message,omitempty"`
	Summary            *pipeline.Summary `json:"summary,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type job struct {
	status     JobStatus
	results    []*models.NormalizedAddress
	cancel     context.CancelFunc
	done       chan struct{}
	finishedAt time.Time // zero while running
}

// AddressService resolves single addresses and runs batch jobs in the
// background.
type AddressService struct {
	runner    *pipeline.Runner
	logger    *zap.Logger
	startTime time.Time

	mu        sync.RWMutex
	jobs      map[string]*job
	retention time.Duration
	// base outlives requests; Shutdown cancels every job.
	base     context.Context
	shutdown context.CancelFunc
}

func NewAddressService(runner *pipeline.Runner, logger *zap.Logger) *AddressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &AddressService{
		runner:    runner,
		logger:    logger,
		startTime: time.Now(),
		jobs:      make(map[string]*job),
		retention: DefaultJobRetention,
		base:      base,
		shutdown:  cancel,
	}
}

// SetJobRetention changes how long finished jobs are kept.
func (as *AddressService) SetJobRetention(d time.Duration) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.retention = d
}

// EvictFinishedJobs drops jobs finished longer ago than the retention and
// returns how many went. Running jobs are never dropped.
func (as *AddressService) EvictFinishedJobs() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.evictLocked(time.Now())
}

func (as *AddressService) evictLocked(now time.Time) int {
	n := 0
	for id, j := range as.jobs {
		if !j.finishedAt.IsZero() && now.Sub(j.finishedAt) >= as.retention {
			delete(as.jobs, id)
			n++
		}
	}
	return n
}

// Runner returns the pipeline runner.
func (as *AddressService) Runner() *pipeline.Runner { return as.runner }

// NormalizeAddress resolves one address through the cache.
func (as *AddressService) NormalizeAddress(ctx context.Context, raw models.RawAddress) (*models.NormalizedAddress, error) {
	if raw.Text == "" {
		return nil, ErrEmptyAddress
	}
	return as.runner.Resolve(ctx, raw)
}

// EstimateBatchProcessingTime is a rough seconds estimate for count records.
func (as *AddressService) EstimateBatchProcessingTime(count int) int {
	const perSecond = 20
	return (count + perSecond - 1) / perSecond
}

// StartBatchJob queues records for background resolution and returns the
// job id at once.
func (as *AddressService) StartBatchJob(records []models.RawAddress) string {
	id := utils.GenerateUUID()
	ctx, cancel := context.WithCancel(as.base)
	now := time.Now()
	j := &job{
		status: JobStatus{
			JobID:     id,
			Status:    JobStatusPending,
			Total:     len(records),
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	as.mu.Lock()
	if n := as.evictLocked(now); n > 0 {
		as.logger.Debug("Finished jobs evicted", zap.Int("jobs", n))
	}
	as.jobs[id] = j
	as.mu.Unlock()

	go as.run(ctx, j, records)
	return id
}

func (as *AddressService) run(ctx context.Context, j *job, records []models.RawAddress) {
	defer close(j.done)
	defer j.cancel()
	start := time.Now()

	as.update(j, func(s *JobStatus) {
		s.Status = JobStatusRunning
		s.Message = "processing"
	})

	results, sum := as.runner.RunBatch(ctx, records, pipeline.BatchOptions{
		Progress: func(done, total int) {
			as.update(j, func(s *JobStatus) {
				if total == 0 {
					return
				}
				s.Progress = float64(done) / float64(total)
				s.Processed = done * s.Total / total
				if done > 0 {
					left := time.Since(start) / time.Duration(done) * time.Duration(total-done)
					s.EstimatedRemaining = int(left.Seconds())
				}
			})
		},
	})

	as.mu.Lock()
	j.results = results
	j.status.Summary = &sum
	j.status.Processed = len(results)
	j.status.EstimatedRemaining = 0
	j.status.UpdatedAt = time.Now()
	j.finishedAt = j.status.UpdatedAt
	if sum.Cancelled {
		j.status.Status = JobStatusCancelled
		j.status.Message = "cancelled before completion"
	} else {
		j.status.Status = JobStatusDone
		j.status.Progress = 1
		j.status.Message = "completed"
	}
	as.mu.Unlock()

	as.logger.Info("Batch job completed",
		zap.String("job_id", j.status.JobID),
		zap.Int("total_addresses", len(records)),
		zap.Bool("cancelled", sum.Cancelled))
}

func (as *AddressService) update(j *job, fn func(s *JobStatus)) {
	as.mu.Lock()
	defer as.mu.Unlock()
	fn(&j.status)
	j.status.UpdatedAt = time.Now()
}

// GetJobStatus returns a snapshot of the job state.
func (as *AddressService) GetJobStatus(jobID string) (*JobStatus, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	j, ok := as.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	s := j.status
	return &s, nil
}

// GetJobResults returns the results of a finished job, in input order.
func (as *AddressService) GetJobResults(jobID string) ([]*models.NormalizedAddress, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	j, ok := as.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.results == nil {
		return nil, ErrJobNotFinished
	}
	return j.results, nil
}

// GetJobResultsStream streams finished results over a channel.
func (as *AddressService) GetJobResultsStream(ctx context.Context, jobID string) (<-chan *models.NormalizedAddress, error) {
	results, err := as.GetJobResults(jobID)
	if err != nil {
		return nil, err
	}
	ch := make(chan *models.NormalizedAddress, 100)
	go func() {
		defer close(ch)
		for _, r := range results {
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CancelJob stops a running job. Records already resolved are kept.
func (as *AddressService) CancelJob(jobID string) error {
	as.mu.RLock()
	j, ok := as.jobs[jobID]
	as.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	j.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (as *AddressService) Wait(ctx context.Context, jobID string) error {
	as.mu.RLock()
	j, ok := as.jobs[jobID]
	as.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels all running jobs.
func (as *AddressService) Shutdown() {
	as.shutdown()
}

func (as *AddressService) GetStartTime() time.Time {
	return as.startTime
}

// GetStats reports uptime and job counts.
func (as *AddressService) GetStats() map[string]interface{} {
	as.mu.RLock()
	defer as.mu.RUnlock()

	byStatus := map[string]int{}
	for _, j := range as.jobs {
		byStatus[j.status.Status]++
	}
	return map[string]interface{}{
		"uptime_seconds":   int64(time.Since(as.startTime).Seconds()),
		"start_time":       as.startTime.Format(time.RFC3339),
		"status":           "running",
		"jobs":             byStatus,
		"taxonomy_version": as.runner.Engine().Taxonomy().Version(),
	}
}
