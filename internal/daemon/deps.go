package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/internal/queue"
	"github.com/sempr/labjudge/internal/store"
)

// Deps are the external services shared by the daemon and the CLI commands.
// Store is nil when no database is configured.
type Deps struct {
	Queue queue.JobQueue
	Redis *redis.Client
	Bus   pubsub.Bus
	Store *store.VerdictStore
}

// OpenDeps connects to the queue, the Redis server carrying the result
// channels, and the verdict database.
func OpenDeps(ctx context.Context, cfg *Config) (*Deps, error) {
	d := &Deps{}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisAuth,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errs.Wrap(errs.ChannelPublishFailure, "redis "+cfg.RedisAddr()+" unreachable", err)
	}
	d.Redis = rdb
	d.Bus = pubsub.NewRedisBus(rdb)

	q, err := queue.New(ctx, cfg.QueueOptions())
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Queue = q

	if dsn := cfg.DSN(); dsn != "" {
		st, err := store.Open(cfg.DBDriver, dsn)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open verdict store: %w", err)
		}
		d.Store = st
	} else {
		slog.Debug("no database configured, verdicts are not persisted")
	}
	return d, nil
}

func (d *Deps) Close() error {
	var errList []error
	if d.Queue != nil {
		errList = append(errList, d.Queue.Close())
	}
	if d.Bus != nil {
		errList = append(errList, d.Bus.Close())
	}
	if d.Redis != nil {
		errList = append(errList, d.Redis.Close())
	}
	if d.Store != nil {
		errList = append(errList, d.Store.Close())
	}
	return errors.Join(errList...)
}
