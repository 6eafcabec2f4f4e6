// Package journal persists the Job Watcher's resourceVersion cursor in
// Redis so a restart resumes watching where it left off instead of
// replaying (or missing) events. Grounded on the reaper's Redis-backed
// journal: the same key, the same "store most recent cursor" contract,
// re-expressed with go-redis.
package journal

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/guardian/cds-k8s/internal/logging"
	"github.com/guardian/cds-k8s/internal/retry"
)

// CursorKey is the Redis key the most recently processed watch cursor
// is stored under.
const CursorKey = "cdsreaper:most-recent-event"

// Config holds the connection parameters for the journal's Redis
// backend.
type Config struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Journal stores and retrieves the Job Watcher's resumption cursor.
type Journal struct {
	log *logging.Logger
	rdb *goredis.Client
	cfg Config
}

// Connect dials Redis and pings it, retrying with a 2×attempt second
// backoff. maxRetries is the attempt budget for this call only; the
// reaper connects once with a small budget so a broken deployment fails
// fast at startup. After Connect returns, MostRecentEvent,
// RecordProcessed and Clear are not retried by the journal.
func Connect(ctx context.Context, cfg Config, log *logging.Logger, maxRetries int) (*Journal, error) {
	j := &Journal{log: log.With("component", "Journal"), cfg: cfg}

	err := retry.Linear(ctx, maxRetries, retry.TwiceAttempt, func(attempt int) error {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
			DB:       cfg.DB,
			Password: cfg.Password,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			if attempt >= maxRetries {
				j.log.Error("could not connect to redis, giving up", "host", cfg.Host, "port", cfg.Port, "attempt", attempt, "error", err)
			} else {
				j.log.Warn("could not connect to redis, retrying", "host", cfg.Host, "port", cfg.Port, "attempt", attempt, "error", err)
			}
			return err
		}
		j.rdb = rdb
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// MostRecentEvent returns the last journalled cursor, or ("", false) if
// none has been recorded, or an invalid value was found (in which case
// it is cleared so the caller starts fresh from "now").
func (j *Journal) MostRecentEvent(ctx context.Context) (string, bool) {
	val, err := j.rdb.Get(ctx, CursorKey).Result()
	if err == goredis.Nil {
		return "", false
	}
	if err != nil {
		j.log.Error("failed to read journal cursor", "error", err)
		return "", false
	}
	if _, convErr := strconv.ParseInt(val, 10, 64); convErr != nil {
		j.log.Warn("journalled cursor is not an integer, clearing it", "error", convErr)
		if delErr := j.rdb.Del(ctx, CursorKey).Err(); delErr != nil {
			j.log.Error("failed to clear invalid journal cursor", "error", delErr)
		}
		return "", false
	}
	return val, true
}

// RecordProcessed journals cursor as the most recently processed watch
// event.
func (j *Journal) RecordProcessed(ctx context.Context, cursor string) error {
	return j.rdb.Set(ctx, CursorKey, cursor, 0).Err()
}

// Clear removes the journalled cursor, used when the watch's
// resourceVersion has expired (HTTP 410 Gone) and the watcher must
// restart from "now" rather than replay events the cluster no longer
// remembers.
func (j *Journal) Clear(ctx context.Context) error {
	return j.rdb.Del(ctx, CursorKey).Err()
}

// Close releases the underlying Redis connection.
func (j *Journal) Close() error {
	return j.rdb.Close()
}
