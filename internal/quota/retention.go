package quota

import (
	"context"
	"time"

	"github.com/apollohq/apollo-gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	retentionInterval      = 6 * time.Hour
	retentionBatchSize     = 5000
	maxDeleteBatchesPerRun = 2000
)

// RetentionCleaner periodically deletes usage records older than the
// configured horizon. Admission only ever looks back one month, so aged rows
// serve reporting alone; a zero retention keeps them forever.
type RetentionCleaner struct {
	db            *gorm.DB
	retentionDays int
	interval      time.Duration
	batchSize     int
}

// NewRetentionCleaner constructs a cleaner. It returns nil when retention is
// disabled, which callers treat as "do not start".
func NewRetentionCleaner(db *gorm.DB, retentionDays int) *RetentionCleaner {
	if db == nil || retentionDays <= 0 {
		return nil
	}
	return &RetentionCleaner{
		db:            db,
		retentionDays: retentionDays,
		interval:      retentionInterval,
		batchSize:     retentionBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine. The loop stops
// when ctx is canceled.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go func() {
		c.runOnce(ctx)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runOnce(ctx)
			}
		}
	}()
}

// runOnce deletes expired rows in bounded batches so a large backlog cannot
// hold a long transaction.
func (c *RetentionCleaner) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.retentionDays)
	deleted := int64(0)

	for batch := 0; batch < maxDeleteBatchesPerRun; batch++ {
		res := c.db.WithContext(ctx).
			Where("id IN (?)", c.db.Model(&models.UsageRecord{}).
				Select("id").
				Where("recorded_at < ?", cutoff).
				Limit(c.batchSize)).
			Delete(&models.UsageRecord{})
		if res.Error != nil {
			log.WithError(res.Error).Warn("usage retention batch failed")
			return
		}
		deleted += res.RowsAffected
		if res.RowsAffected < int64(c.batchSize) {
			break
		}
	}

	if deleted > 0 {
		log.Infof("usage retention: deleted %d records older than %s", deleted, cutoff.Format("2006-01-02"))
	}
}
