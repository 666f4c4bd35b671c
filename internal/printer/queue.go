package printer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Job statuses
const (
	JobQueued    = "queued"
	JobPrinting  = "printing"
	JobFailed    = "failed"
	JobCompleted = "completed"
)

// PrintJob is one submitted print job. Data is the complete command stream;
// a failed job is only ever resent whole.
type PrintJob struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // receipt, kot, raw
	OrderID   string    `json:"order_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Data      []byte    `json:"-"`
	Size      int       `json:"size"`
	Attempts  int       `json:"attempts"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	DoneAt    time.Time `json:"done_at,omitempty"`

	err  error
	done chan struct{}
}

// Err returns the failure of a finished job
func (j *PrintJob) Err() error {
	return j.err
}

// Printer is what the queue prints through
type Printer interface {
	Print(ctx context.Context, data []byte) error
	Connected() (Device, bool)
}

// PrintQueue runs print jobs one at a time in submission order. Jobs are
// never retried automatically.
type PrintQueue struct {
	jobs    []*PrintJob
	mu      sync.Mutex
	printer Printer
	pending chan *PrintJob
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	onJobDone func(*PrintJob)
}

// NewPrintQueue creates a queue and starts its worker
func NewPrintQueue(printer Printer) *PrintQueue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &PrintQueue{
		jobs:    make([]*PrintJob, 0),
		printer: printer,
		pending: make(chan *PrintJob, 64),
		ctx:     ctx,
		cancel:  cancel,
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// OnJobDone sets a callback for finished jobs
func (q *PrintQueue) OnJobDone(callback func(*PrintJob)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onJobDone = callback
}

// Enqueue adds a job and returns its ID without waiting
func (q *PrintQueue) Enqueue(kind, orderID string, data []byte) (string, error) {
	job, err := q.add(kind, orderID, data)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// Submit adds a job and waits for it to finish
func (q *PrintQueue) Submit(ctx context.Context, kind, orderID string, data []byte) (*PrintJob, error) {
	job, err := q.add(kind, orderID, data)
	if err != nil {
		return nil, err
	}

	select {
	case <-job.done:
		result := q.GetJob(job.ID)
		return result, job.err
	case <-ctx.Done():
		return q.GetJob(job.ID), ctx.Err()
	}
}

func (q *PrintQueue) add(kind, orderID string, data []byte) (*PrintJob, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("print job is empty")
	}

	job := &PrintJob{
		ID:        uuid.New().String(),
		Kind:      kind,
		OrderID:   orderID,
		Data:      data,
		Size:      len(data),
		Status:    JobQueued,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.pending <- job:
	case <-q.ctx.Done():
		return nil, fmt.Errorf("print queue stopped")
	}

	log.Debug().Str("job", job.ID).Str("kind", kind).Int("bytes", len(data)).Msg("Print job queued")
	return job, nil
}

// Retry re-submits a failed job in full as a new job
func (q *PrintQueue) Retry(jobID string) (string, error) {
	q.mu.Lock()
	var original *PrintJob
	for _, job := range q.jobs {
		if job.ID == jobID {
			original = job
			break
		}
	}
	if original == nil {
		q.mu.Unlock()
		return "", fmt.Errorf("job not found: %s", jobID)
	}
	status := original.Status
	kind, orderID, data := original.Kind, original.OrderID, original.Data
	q.mu.Unlock()

	if status != JobFailed {
		return "", fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, status)
	}

	return q.Enqueue(kind, orderID, data)
}

// worker processes print jobs
func (q *PrintQueue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pending:
			q.processJob(job)
		}
	}
}

func (q *PrintQueue) processJob(job *PrintJob) {
	q.mu.Lock()
	job.Status = JobPrinting
	job.Attempts++
	if dev, ok := q.printer.Connected(); ok {
		job.DeviceID = dev.ID
	}
	q.mu.Unlock()

	err := q.printer.Print(q.ctx, job.Data)

	q.mu.Lock()
	job.DoneAt = time.Now()
	job.err = err
	if err != nil {
		job.Status = JobFailed
		job.Error = UserMessage(err)
		log.Error().Err(err).Str("job", job.ID).Msg("Print job failed")
	} else {
		job.Status = JobCompleted
		log.Info().Str("job", job.ID).Str("kind", job.Kind).Msg("Print job completed")
	}
	callback := q.onJobDone
	snapshot := *job
	q.mu.Unlock()

	close(job.done)
	if callback != nil {
		callback(&snapshot)
	}
}

// GetJob returns a copy of a job by ID
func (q *PrintQueue) GetJob(jobID string) *PrintJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID == jobID {
			jobCopy := *job
			return &jobCopy
		}
	}

	return nil
}

// GetAllJobs returns copies of all jobs
func (q *PrintQueue) GetAllJobs() []*PrintJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*PrintJob, len(q.jobs))
	for i, job := range q.jobs {
		jobCopy := *job
		jobs[i] = &jobCopy
	}

	return jobs
}

// ClearCompleted removes completed jobs from the history
func (q *PrintQueue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := make([]*PrintJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if job.Status != JobCompleted {
			filtered = append(filtered, job)
		}
	}

	removed := len(q.jobs) - len(filtered)
	q.jobs = filtered
	return removed
}

// Stop stops the print queue worker
func (q *PrintQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}
