package memory

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/factmem/pkg/logger"
)

// runMaintenance checks the configured cron expression once a minute and on
// each due tick runs an expiry sweep followed by a single consolidation
// pass. Exits on Close.
func (s *Service) runMaintenance(cron string) {
	defer s.wg.Done()

	gron := gronx.New()
	if !gron.IsValid(cron) {
		logger.WarnCF("memory", "invalid maintenance cron, scheduler disabled", map[string]interface{}{"cron": cron})
		return
	}
	logger.InfoCF("memory", "maintenance scheduler started", map[string]interface{}{"cron": cron})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			due, err := gron.IsDue(cron, time.Now())
			if err != nil || !due {
				continue
			}
			ctx := context.Background()
			swept := s.Sweep(ctx)
			merged := s.Consolidate(ctx)
			logger.InfoCF("memory", "maintenance tick", map[string]interface{}{"swept": swept, "merged": merged})
		}
	}
}
