package jobstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/xaenox/acet/internal/models"
)

var ErrNotFound = errors.New("job not found")

var prefix = []byte("job:")

// Store keeps relay job records in pebble.
type Store struct {
	db  *pebble.DB
	mu  sync.Mutex
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create job store directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(id string) []byte {
	return append(append([]byte{}, prefix...), id...)
}

// Create stores a new pending job.
func (s *Store) Create(id, jobType string, total int) (*models.Job, error) {
	now := s.now()
	job := &models.Job{
		ID:        id,
		Type:      jobType,
		Status:    models.JobPending,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) Get(id string) (*models.Job, error) {
	v, closer, err := s.db.Get(key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	defer closer.Close()

	var job models.Job
	if err := json.Unmarshal(v, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Update applies fn to the stored job and writes it back.
func (s *Store) Update(id string, fn func(*models.Job)) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	fn(job)
	job.UpdatedAt = s.now()
	if err := s.put(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Advance records one more finished unit of work and recomputes progress.
func (s *Store) Advance(id string) (*models.Job, error) {
	return s.Update(id, func(j *models.Job) {
		j.Status = models.JobProcessing
		j.Completed++
		if j.Total > 0 {
			j.Progress = min(99, j.Completed*100/j.Total)
		}
	})
}

// Complete marks the job finished with its result.
func (s *Store) Complete(id string, result any) (*models.Job, error) {
	return s.Update(id, func(j *models.Job) {
		j.Status = models.JobCompleted
		j.Progress = 100
		j.Result = result
		j.Error = ""
	})
}

// Fail marks the job failed.
func (s *Store) Fail(id string, cause error) (*models.Job, error) {
	return s.Update(id, func(j *models.Job) {
		j.Status = models.JobFailed
		j.Error = cause.Error()
	})
}

func (s *Store) List() ([]models.Job, error) {
	var jobs []models.Job
	err := s.scan(func(_ []byte, job models.Job) error {
		jobs = append(jobs, job)
		return nil
	})
	return jobs, err
}

// Prune deletes finished jobs last updated before cutoff.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale [][]byte
	err := s.scan(func(k []byte, job models.Job) error {
		if job.Done() && job.UpdatedAt.Before(cutoff) {
			stale = append(stale, append([]byte{}, k...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range stale {
		if err := batch.Delete(k, nil); err != nil {
			return 0, fmt.Errorf("delete job: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return len(stale), nil
}

func (s *Store) scan(fn func(k []byte, job models.Job) error) error {
	upper := append(append([]byte{}, prefix[:len(prefix)-1]...), prefix[len(prefix)-1]+1)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("iterate jobs: %w", err)
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			continue
		}
		var job models.Job
		if err := json.Unmarshal(it.Value(), &job); err != nil {
			return fmt.Errorf("decode job %s: %w", it.Key(), err)
		}
		if err := fn(it.Key(), job); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *Store) put(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.db.Set(key(job.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
