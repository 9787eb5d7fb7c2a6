// Package counter counts webhook outcomes in Redis and flushes them into
// gateway_daily_stats.
package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayBridge/app/models"
)

const (
	outcomesKey = "webhook:counters"
	tmpPrefix   = outcomesKey + ":tmp:"
	dayLayout   = "2006-01-02"
	// staleAfter is well above the flush job timeout.
	staleAfter = 5 * time.Minute
)

// Key identifies one counter row.
type Key struct {
	Day     string
	Gateway string
	Outcome string
}

func (k Key) field() string {
	return k.Day + "|" + k.Gateway + "|" + k.Outcome
}

func parseField(f string) (Key, bool) {
	parts := strings.Split(f, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, false
	}
	return Key{Day: parts[0], Gateway: parts[1], Outcome: parts[2]}, true
}

// Counter accumulates increments in one Redis hash. The hot path is a single
// HINCRBY; the database sees batched upserts only.
type Counter struct {
	rdb *redis.Client
	db  *gorm.DB
	now func() time.Time
}

func New(rdb *redis.Client, db *gorm.DB) *Counter {
	return &Counter{rdb: rdb, db: db, now: time.Now}
}

// RecordOutcome increments today's counter for gateway and outcome.
func (c *Counter) RecordOutcome(ctx context.Context, gateway, outcome string) error {
	k := Key{Day: c.now().UTC().Format(dayLayout), Gateway: gateway, Outcome: outcome}
	return c.rdb.HIncrBy(ctx, outcomesKey, k.field(), 1).Err()
}

// Flush drains the hash and adds the increments to gateway_daily_stats.
// RENAME moves the hash aside atomically so increments that arrive during
// the flush land in a fresh hash. A moved-aside hash that an earlier flush
// could not finish is adopted once it is older than staleAfter.
func (c *Counter) Flush(ctx context.Context) (int, error) {
	keys := c.adoptStale(ctx, 1)
	live := c.tmpKey(0)
	if err := c.rdb.Rename(ctx, outcomesKey, live).Err(); err != nil {
		if !isNoSuchKey(err) {
			return 0, err
		}
	} else {
		keys = append(keys, live)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	// the moved-aside hashes stay in Redis until the rows are written
	data := map[string]int64{}
	for _, key := range keys {
		fields, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		for f, v := range fields {
			if inc, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				data[f] += inc
			}
		}
	}

	rows := make([]models.GatewayDailyStat, 0, len(data))
	for f, inc := range data {
		k, ok := parseField(f)
		if !ok || inc == 0 {
			continue
		}
		rows = append(rows, models.GatewayDailyStat{Day: k.Day, Gateway: k.Gateway, Outcome: k.Outcome, Total: inc})
	}
	sort.Slice(rows, func(i, j int) bool {
		return Key{rows[i].Day, rows[i].Gateway, rows[i].Outcome}.field() < Key{rows[j].Day, rows[j].Gateway, rows[j].Outcome}.field()
	})

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			row := rows[i]
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "day"}, {Name: "gateway"}, {Name: "outcome"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"total": gorm.Expr("total + ?", row.Total)}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// put the increments back so nothing is lost
		if rerr := c.restore(ctx, data); rerr == nil {
			_ = c.rdb.Del(ctx, keys...).Err()
		}
		return 0, err
	}
	_ = c.rdb.Del(ctx, keys...).Err()
	return len(rows), nil
}

func (c *Counter) tmpKey(seq int) string {
	return fmt.Sprintf("%s%d-%d", tmpPrefix, c.now().UnixNano(), seq)
}

// adoptStale claims moved-aside hashes older than staleAfter by renaming
// them to fresh keys. Only one flusher wins each RENAME. Scan errors are
// ignored; the next flush tries again.
func (c *Counter) adoptStale(ctx context.Context, seq int) []string {
	cutoff := c.now().Add(-staleAfter).UnixNano()
	var adopted []string
	iter := c.rdb.Scan(ctx, 0, tmpPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		stamp, _, _ := strings.Cut(strings.TrimPrefix(key, tmpPrefix), "-")
		ts, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil || ts > cutoff {
			continue
		}
		claimed := c.tmpKey(seq + len(adopted))
		if err := c.rdb.Rename(ctx, key, claimed).Err(); err != nil {
			continue
		}
		adopted = append(adopted, claimed)
	}
	return adopted
}

func (c *Counter) restore(ctx context.Context, data map[string]int64) error {
	pipe := c.rdb.TxPipeline()
	for f, inc := range data {
		pipe.HIncrBy(ctx, outcomesKey, f, inc)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func isNoSuchKey(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such key")
}

// Today returns today's totals per gateway and outcome: the flushed rows
// plus what is still pending in Redis. Redis errors are ignored.
func (c *Counter) Today(ctx context.Context) (map[string]map[string]int64, error) {
	day := c.now().UTC().Format(dayLayout)
	out := map[string]map[string]int64{}
	add := func(gateway, outcome string, n int64) {
		if out[gateway] == nil {
			out[gateway] = map[string]int64{}
		}
		out[gateway][outcome] += n
	}

	var rows []models.GatewayDailyStat
	if err := c.db.WithContext(ctx).Where("day = ?", day).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		add(r.Gateway, r.Outcome, r.Total)
	}

	if c.rdb != nil {
		if pending, err := c.rdb.HGetAll(ctx, outcomesKey).Result(); err == nil {
			for f, v := range pending {
				k, ok := parseField(f)
				if !ok || k.Day != day {
					continue
				}
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					add(k.Gateway, k.Outcome, n)
				}
			}
		}
	}
	return out, nil
}
