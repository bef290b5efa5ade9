package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/ingest"
	"github.com/OFFIS-RIT/biorel/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IngestJobMsg asks a worker to ingest a pending directory or a list of
// directly submitted documents.
type IngestJobMsg struct {
	JobID       string            `json:"job_id"`
	Directory   string            `json:"directory,omitempty"`
	Documents   []common.Document `json:"documents,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

// EnqueueIngest publishes job on the ingest queue and returns its id.
func EnqueueIngest(ctx context.Context, ch Publisher, job IngestJobMsg) (string, error) {
	if job.JobID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("failed to generate job id: %w", err)
		}
		job.JobID = id
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ingest job: %w", err)
	}
	if err := PublishFIFO(ctx, ch, IngestQueue, data); err != nil {
		return "", err
	}
	logger.Info("[Queue] Enqueued ingest job", "job", job.JobID, "directory", job.Directory, "documents", len(job.Documents))
	return job.JobID, nil
}

type Ingester interface {
	Ingest(ctx context.Context, dir string) (ingest.Result, error)
	AddDocument(ctx context.Context, doc common.Document) (ingest.Result, error)
}

type RunLocker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// IngestProcessor executes ingest jobs. Directory runs hold the ingest
// lease so two workers never move the same files.
type IngestProcessor struct {
	Ingestor   Ingester
	Locker     RunLocker
	PendingDir string
}

// Process implements ProcessFunc.
func (p *IngestProcessor) Process(ctx context.Context, body []byte) error {
	var job IngestJobMsg
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("%w: malformed ingest job: %v", ErrPermanent, err)
	}

	for _, doc := range job.Documents {
		res, err := p.Ingestor.AddDocument(ctx, doc)
		if err != nil {
			return classify(job.JobID, err)
		}
		logger.Info("[Queue] Ingested document", "job", job.JobID, "document", strings.Join(res.Documents, ","), "chunks", res.Chunks)
	}
	if len(job.Documents) > 0 && job.Directory == "" {
		return nil
	}

	dir := job.Directory
	if dir == "" {
		dir = p.PendingDir
	}
	return classify(job.JobID, p.RunDirectory(ctx, dir))
}

// RunDirectory ingests dir under the ingest lease. An empty directory is
// not an error. A run finding the lease taken is skipped.
func (p *IngestProcessor) RunDirectory(ctx context.Context, dir string) error {
	run := func(ctx context.Context) error {
		res, err := p.Ingestor.Ingest(ctx, dir)
		if errors.Is(err, common.ErrNoDocuments) {
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("[Queue] Ingestion run finished", "dir", dir, "documents", len(res.Documents), "chunks", res.Chunks)
		return nil
	}

	if p.Locker == nil {
		return run(ctx)
	}
	err := p.Locker.WithLease(ctx, leaselock.IngestKey, leaselock.Options{Owner: "ingest:"}, run)
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Queue] Another ingestion run holds the lease, skipping", "dir", dir)
		return nil
	}
	return err
}

func classify(jobID string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrNoDocuments):
		logger.Warn("[Queue] Nothing to ingest", "job", jobID, "err", err)
		return nil
	case errors.Is(err, common.ErrConfiguration):
		return fmt.Errorf("%w: job %s: %w", ErrPermanent, jobID, err)
	default:
		return fmt.Errorf("job %s: %w", jobID, err)
	}
}
