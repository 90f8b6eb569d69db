package backup

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PgDump produces a plain SQL dump with the pg_dump binary.
type PgDump struct {
	Host     string
	Port     int
	User     string
	Password string
	DB       string
	Binary   string // default: pg_dump
}

func (p PgDump) Dump(ctx context.Context, dst string) error {
	bin := p.Binary
	if bin == "" {
		bin = "pg_dump"
	}
	port := p.Port
	if port <= 0 {
		port = 5432
	}

	cmd := exec.CommandContext(ctx, bin,
		"-h", p.Host,
		"-p", strconv.Itoa(port),
		"-U", p.User,
		"-d", p.DB,
		"--no-password",
		"-f", dst,
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.Password)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return errors.Wrap(err, "pg_dump")
		}
		return errors.Wrapf(err, "pg_dump: %s", msg)
	}
	return nil
}
