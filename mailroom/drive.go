package mailroom

import (
	"context"
	"time"
)

const folderCacheTTL = 24 * time.Hour

// resolveFolder walks root/year/month in Drive, creating what is missing,
// and caches the month folder id in redis so a burst of notifications does
// not re-run three lookups per message.
func (s *Service) resolveFolder(ctx context.Context, drv Drive, received time.Time) (string, error) {
	year := received.Format("2006")
	month := received.Format("01")
	key := "drive:folder:" + s.Config.DriveRootFolder + "/" + year + "/" + month

	if s.Redis != nil {
		if id, err := s.Redis.Get(ctx, key).Result(); err == nil && id != "" {
			return id, nil
		}
	}

	rootID, err := drv.EnsureFolder(ctx, s.Config.DriveRootFolder, "")
	if err != nil {
		return "", err
	}
	yearID, err := drv.EnsureFolder(ctx, year, rootID)
	if err != nil {
		return "", err
	}
	monthID, err := drv.EnsureFolder(ctx, month, yearID)
	if err != nil {
		return "", err
	}

	if s.Redis != nil {
		s.Redis.Set(ctx, key, monthID, folderCacheTTL)
	}
	return monthID, nil
}
