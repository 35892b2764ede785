package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"echo-study/internal/services"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// DeckJob tracks an asynchronous flashcard generation for one upload. The
// frontend polls it while pages are processed.
type DeckJob struct {
	ID        string                         `json:"jobId"`
	DeckID    int64                          `json:"deckId"`
	FileName  string                         `json:"fileName"`
	Status    string                         `json:"status"`
	Step      string                         `json:"step,omitempty"`
	Message   string                         `json:"message,omitempty"`
	Current   int                            `json:"current"`
	Total     int                            `json:"total"`
	Percent   int                            `json:"percent"`
	Result    *services.DeckGenerationResult `json:"result,omitempty"`
	Error     string                         `json:"error,omitempty"`
	CreatedAt time.Time                      `json:"createdAt"`
	UpdatedAt time.Time                      `json:"updatedAt"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*DeckJob
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*DeckJob),
	}
}

func (m *JobManager) Create(deckID int64, fileName string) *DeckJob {
	ts := time.Now().UTC()
	job := &DeckJob{
		ID:        uuid.NewString(),
		DeckID:    deckID,
		FileName:  fileName,
		Status:    JobStatusPending,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.clone()
}

func (m *JobManager) Get(id string) (*DeckJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *DeckJob) {
		job.Status = JobStatusProcessing
		job.Message = "Starting"
	})
}

// Progress satisfies services.ProgressCallback once bound to a job ID.
func (m *JobManager) Progress(id string) services.ProgressCallback {
	return func(step, message string, current, total int) {
		m.withJob(id, func(job *DeckJob) {
			job.Status = JobStatusProcessing
			job.Step = step
			job.Message = message
			job.Current = current
			job.Total = total
			job.Percent = percent(current, total)
		})
	}
}

func (m *JobManager) MarkComplete(id string, result *services.DeckGenerationResult) {
	m.withJob(id, func(job *DeckJob) {
		job.Status = JobStatusComplete
		job.Step = "complete"
		job.Message = "Processing complete"
		job.Percent = 100
		job.Error = ""
		if result != nil {
			res := *result
			job.Result = &res
		}
	})
}

func (m *JobManager) MarkFailed(id string, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "processing error"
	}
	m.withJob(id, func(job *DeckJob) {
		job.Status = JobStatusFailed
		job.Step = "error"
		job.Message = msg
		job.Error = msg
	})
}

func (m *JobManager) withJob(id string, fn func(job *DeckJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (job *DeckJob) clone() *DeckJob {
	if job == nil {
		return nil
	}
	cp := *job
	if job.Result != nil {
		res := *job.Result
		res.Tags = append([]string(nil), job.Result.Tags...)
		cp.Result = &res
	}
	return &cp
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
