package counter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wavecrate/wavecrate/internal/pkg/cache"
	"github.com/wavecrate/wavecrate/internal/pkg/database"
)

const (
	trackDownloadsKey = "track:counters:downloads"
	trackSalesKey     = "track:counters:sales"
)

// AddTrackDownload increments the pending download counter for a track in Redis
func AddTrackDownload(trackID string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, trackDownloadsKey, trackID, 1).Err()
}

// AddTrackSale increments the pending sale counter for a track in Redis
func AddTrackSale(trackID string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, trackSalesKey, trackID, 1).Err()
}

// FlushAll flushes both sale and download counters to the database
func FlushAll() error {
	if err := flushHashToColumn(trackDownloadsKey, "download_count"); err != nil {
		return err
	}
	return flushHashToColumn(trackSalesKey, "sale_count")
}

// flushHashToColumn drains a Redis hash atomically and applies batched
// increments to the track_stats table. Uses RENAME to a temporary key for
// atomic drain without losing in-flight increments.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	trackIDs := make([]string, 0, len(data))
	for trackID := range data {
		trackIDs = append(trackIDs, trackID)
	}
	sort.Strings(trackIDs)

	db := database.GetDB()
	for _, trackID := range trackIDs {
		inc := data[trackID]
		sql := fmt.Sprintf(
			"INSERT INTO track_stats (track_id, %s, created_at, updated_at) VALUES (?, ?, NOW(), NOW()) "+
				"ON DUPLICATE KEY UPDATE %s = %s + VALUES(%s), updated_at = NOW()",
			column, column, column, column,
		)
		if err := db.Exec(sql, trackID, inc).Error; err != nil {
			return err
		}
	}
	return nil
}
