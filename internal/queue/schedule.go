package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	"github.com/robfig/cron/v3"
)

// NewIngestSchedule returns a cron that ingests the pending directory on
// the standard cron expression spec. Runs overlapping a still running one
// are skipped. The caller starts and stops it.
func NewIngestSchedule(ctx context.Context, spec string, p *IngestProcessor) (*cron.Cron, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("%w: invalid ingest schedule %q: %v", common.ErrConfiguration, spec, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		start := time.Now()
		if err := p.RunDirectory(ctx, p.PendingDir); err != nil {
			logger.Error("[Schedule] Scheduled ingestion failed", "dir", p.PendingDir, "err", err)
			return
		}
		logger.Debug("[Schedule] Scheduled ingestion done", "dir", p.PendingDir, "duration", time.Since(start))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfiguration, err)
	}
	return c, nil
}
