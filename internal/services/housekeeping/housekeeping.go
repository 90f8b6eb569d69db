package housekeeping

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/pkg/errors"
)

// LogCleaner removes *.log files older than the retention period from Dir.
type LogCleaner struct {
	dir       string
	retention time.Duration
	now       func() time.Time
	logger    log.Logger
}

func NewLogCleaner(dir string, retention time.Duration) *LogCleaner {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &LogCleaner{
		dir:       dir,
		retention: retention,
		now:       time.Now,
		logger:    log.WithName("housekeeping"),
	}
}

// Clean returns the number of removed files. A missing dir is not an error.
func (c *LogCleaner) Clean() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read log dir")
	}

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			c.logger.Error(err, "stat log file", "file", e.Name())
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(c.dir, e.Name())
		if err := os.Remove(p); err != nil {
			c.logger.Error(err, "remove log file", "file", p)
			continue
		}
		removed++
		c.logger.Info("removed old log file", "file", p)
	}
	if removed > 0 {
		c.logger.Info("log cleanup completed", "removed", removed)
	}
	return removed, nil
}
