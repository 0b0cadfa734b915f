package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/mood-agency/relay/internal/config"
	"github.com/mood-agency/relay/internal/queue"
	pebblestore "github.com/mood-agency/relay/internal/storage/pebble"
	logpkg "github.com/mood-agency/relay/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage, config, and the queue engine for a single-node
// instance.
type Runtime struct {
	db     *pebblestore.DB
	engine *queue.Engine
	config cfgpkg.Config
}

// Open initializes the underlying storage, restores the configured queue, and
// starts its lease sweeper.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	eng, err := queue.Open(db, opts.Config.Queue.Name, queue.Options{
		VisibilityTimeout: opts.Config.Queue.VisibilityTimeout(),
		MaxAttempts:       opts.Config.Queue.MaxAttempts,
		SweepInterval:     opts.Config.Queue.SweepInterval(),
		Logger:            opts.Logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	eng.StartSweeper()
	return &Runtime{db: db, engine: eng, config: opts.Config}, nil
}

// Close stops the sweeper and closes underlying resources.
func (r *Runtime) Close() error {
	if r.engine != nil {
		_ = r.engine.Close()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Queue returns the queue engine.
func (r *Runtime) Queue() *queue.Engine { return r.engine }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
