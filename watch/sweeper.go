// Package watch periodically removes backgrounds from images dropped into an
// inbox directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/rembg"
	"github.com/chaos-io/rembg/util"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

type Stats struct {
	Processed int
	Skipped   int
	Failed    int
}

type Sweeper struct {
	chain    *rembg.Chain
	inbox    string
	outbox   string
	schedule string

	mu sync.Mutex
	// outputs maps an output path to the source that produced it.
	outputs map[string]string
}

func NewSweeper(chain *rembg.Chain, cfg config.WatchConfig) *Sweeper {
	return &Sweeper{
		chain:    chain,
		inbox:    cfg.Inbox,
		outbox:   cfg.Outbox,
		schedule: cfg.Schedule,
		outputs:  make(map[string]string),
	}
}

// Sweep processes every image in the inbox once. Per-file failures are
// logged and counted; only an unreadable inbox or a cancelled ctx is
// returned as an error.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	defer util.Trace("sweep " + s.inbox)()

	var stats Stats
	entries, err := os.ReadDir(s.inbox)
	if err != nil {
		return stats, fmt.Errorf("read inbox: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}

		src := filepath.Join(s.inbox, e.Name())
		dst := s.outputFor(src)
		if fresh, err := upToDate(src, dst); err == nil && fresh {
			stats.Skipped++
			continue
		}

		res, err := rembg.RemoveFile(ctx, s.chain, src, dst)
		if err != nil {
			stats.Failed++
			slog.Error("remove background failed", "src", src, "err", err)
			continue
		}
		stats.Processed++
		slog.Info("background removed", "src", src, "dst", dst, "method", res.Method)
	}
	return stats, nil
}

// outputFor picks <outbox>/<stem>.png, adding a ksuid suffix when another
// source already owns that name.
func (s *Sweeper) outputFor(src string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for out, owner := range s.outputs {
		if owner == src {
			return out
		}
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(s.outbox, stem+".png")
	if _, taken := s.outputs[out]; taken {
		out = filepath.Join(s.outbox, stem+"-"+ksuid.New().String()+".png")
	}
	s.outputs[out] = src
	return out
}

func upToDate(src, dst string) (bool, error) {
	si, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dst)
	if err != nil {
		return false, err
	}
	return !di.ModTime().Before(si.ModTime()), nil
}

// Run sweeps once immediately, then on the configured cron schedule until
// ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))

	job := func() {
		stats, err := s.Sweep(ctx)
		if err != nil {
			slog.Error("sweep failed", "inbox", s.inbox, "err", err)
			return
		}
		slog.Info("sweep done", "processed", stats.Processed, "skipped", stats.Skipped, "failed", stats.Failed)
	}

	if _, err := c.AddFunc(s.schedule, job); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}

	job()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger routes cron's logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
