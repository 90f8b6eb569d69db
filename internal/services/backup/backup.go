package backup

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/pkg/metrics"
	"github.com/BearBump/FleetBox/internal/pkg/retry"
	"github.com/pkg/errors"
)

const (
	dateLayout = "2006-01-02"

	tierDaily   = "daily"
	tierWeekly  = "weekly"
	tierMonthly = "monthly"
)

type Dumper interface {
	Dump(ctx context.Context, dst string) error
}

// Uploader copies a finished artifact somewhere off-host.
type Uploader interface {
	Upload(ctx context.Context, root, localPath string) error
}

type Options struct {
	Dir         string
	KeepDaily   int            // default: 7
	KeepWeekly  int            // default: 4
	KeepMonthly int            // default: 12
	Schedule    retry.Schedule // default: 2s, 4s
	Uploader    Uploader
}

// Manager dumps the database into Dir/daily, promotes copies to weekly
// (Sundays) and monthly (1st of month) tiers and prunes old files.
type Manager struct {
	dumper   Dumper
	uploader Uploader

	dir  string
	keep map[string]int

	schedule retry.Schedule
	now      func() time.Time
	logger   log.Logger
}

func New(d Dumper, opts Options) *Manager {
	if opts.KeepDaily <= 0 {
		opts.KeepDaily = 7
	}
	if opts.KeepWeekly <= 0 {
		opts.KeepWeekly = 4
	}
	if opts.KeepMonthly <= 0 {
		opts.KeepMonthly = 12
	}
	if opts.Schedule == nil {
		opts.Schedule = retry.Exponential(time.Second, 3)
	}
	return &Manager{
		dumper:   d,
		uploader: opts.Uploader,
		dir:      opts.Dir,
		keep: map[string]int{
			tierDaily:   opts.KeepDaily,
			tierWeekly:  opts.KeepWeekly,
			tierMonthly: opts.KeepMonthly,
		},
		schedule: opts.Schedule,
		now:      time.Now,
		logger:   log.WithName("backup"),
	}
}

// FileName returns the artifact name of the given tier for day t.
func FileName(tier string, t time.Time) string {
	if tier == tierDaily {
		return "fleetbox_" + t.Format(dateLayout) + ".sql"
	}
	return "fleetbox_" + tier + "_" + t.Format(dateLayout) + ".sql"
}

// Run performs one backup and returns the paths written.
func (m *Manager) Run(ctx context.Context) ([]string, error) {
	paths, err := m.run(ctx)
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	metrics.BackupsTotal.WithLabelValues(outcome).Inc()
	return paths, err
}

func (m *Manager) run(ctx context.Context) ([]string, error) {
	today := m.now()
	for _, tier := range []string{tierDaily, tierWeekly, tierMonthly} {
		if err := os.MkdirAll(filepath.Join(m.dir, tier), 0o755); err != nil {
			return nil, errors.Wrap(err, "create backup dir")
		}
	}

	daily := filepath.Join(m.dir, tierDaily, FileName(tierDaily, today))
	_, err := retry.Do(ctx, m.schedule, func(attempt int) error {
		m.logger.Info("creating backup", "file", daily, "attempt", attempt)
		return m.dump(ctx, daily)
	}, func(err error, attempt int, wait time.Duration) {
		m.logger.Error(err, "backup attempt failed", "attempt", attempt, "wait", wait)
	})
	if err != nil {
		return nil, errors.Wrap(err, "dump database")
	}
	paths := []string{daily}

	if today.Weekday() == time.Sunday {
		p := filepath.Join(m.dir, tierWeekly, FileName(tierWeekly, today))
		if err := copyFile(daily, p); err != nil {
			return paths, errors.Wrap(err, "create weekly backup")
		}
		paths = append(paths, p)
	}
	if today.Day() == 1 {
		p := filepath.Join(m.dir, tierMonthly, FileName(tierMonthly, today))
		if err := copyFile(daily, p); err != nil {
			return paths, errors.Wrap(err, "create monthly backup")
		}
		paths = append(paths, p)
	}

	for tier, keep := range m.keep {
		if err := m.rotate(tier, keep); err != nil {
			m.logger.Error(err, "rotate backups", "tier", tier)
		}
	}

	if m.uploader != nil {
		for _, p := range paths {
			if err := m.uploader.Upload(ctx, m.dir, p); err != nil {
				return paths, errors.Wrap(err, "upload backup")
			}
		}
	}

	m.logger.Info("backup completed", "files", paths)
	return paths, nil
}

// dump writes through dst.tmp; dst appears only once the dump is non-empty.
func (m *Manager) dump(ctx context.Context, dst string) error {
	tmp := dst + ".tmp"
	defer func() { _ = os.Remove(tmp) }()

	if err := m.dumper.Dump(ctx, tmp); err != nil {
		return err
	}
	st, err := os.Stat(tmp)
	if err != nil {
		return errors.Wrap(err, "backup file was not created")
	}
	if st.Size() == 0 {
		return errors.New("backup file is empty")
	}
	return os.Rename(tmp, dst)
}

type artifact struct {
	path string
	day  time.Time
}

// rotate keeps the newest keep files of a tier, ordered by the date in the name.
func (m *Manager) rotate(tier string, keep int) error {
	dir := filepath.Join(m.dir, tier)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var files []artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		day, ok := parseDay(e.Name())
		if !ok {
			continue
		}
		files = append(files, artifact{path: filepath.Join(dir, e.Name()), day: day})
	}
	if len(files) <= keep {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].day.After(files[j].day) })

	for _, f := range files[keep:] {
		if err := os.Remove(f.path); err != nil {
			return errors.Wrapf(err, "remove %s", f.path)
		}
		m.logger.Info("removed old backup", "file", f.path)
	}
	return nil
}

func parseDay(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, "fleetbox_") || !strings.HasSuffix(name, ".sql") {
		return time.Time{}, false
	}
	base := strings.TrimSuffix(name, ".sql")
	if len(base) < len(dateLayout) {
		return time.Time{}, false
	}
	day, err := time.Parse(dateLayout, base[len(base)-len(dateLayout):])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// LatestBackup returns the modification time of the newest .sql file under Dir.
func (m *Manager) LatestBackup() (time.Time, bool, error) {
	var latest time.Time
	found := false
	err := filepath.WalkDir(m.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".sql" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !found || info.ModTime().After(latest) {
			latest, found = info.ModTime(), true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, errors.Wrap(err, "scan backup dir")
	}
	return latest, found, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
