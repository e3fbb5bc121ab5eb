package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxzi/dealpost/internal/campaign"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	status         TEXT NOT NULL,
	params         JSONB NOT NULL DEFAULT '{}',
	cadence_ns     BIGINT NOT NULL DEFAULT 0,
	owner_id       TEXT NOT NULL DEFAULT '',
	last_post_time TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaign_windows (
	campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	day_of_week SMALLINT NOT NULL,
	start_time  INTEGER NOT NULL,
	end_time    INTEGER NOT NULL,
	PRIMARY KEY (campaign_id, day_of_week, start_time)
);

CREATE TABLE IF NOT EXISTS product_queue (
	campaign_id   BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	item_id       TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	price         DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency      TEXT NOT NULL DEFAULT 'USD',
	rating        DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count  INTEGER NOT NULL DEFAULT 0,
	sales_rank    INTEGER NOT NULL DEFAULT 0,
	images        TEXT[] NOT NULL DEFAULT '{}',
	features      TEXT[] NOT NULL DEFAULT '{}',
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	link          TEXT NOT NULL DEFAULT '',
	browse_node   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL,
	posted_at     TIMESTAMPTZ,
	rejected_at   TIMESTAMPTZ,
	reject_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (campaign_id, item_id)
);

CREATE INDEX IF NOT EXISTS product_queue_rank_idx
	ON product_queue (campaign_id, quality_score DESC, discovered_at ASC, item_id)
	WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS post_log (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL,
	campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	channel     TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	link        TEXT NOT NULL DEFAULT '',
	posted_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS post_log_campaign_idx ON post_log (campaign_id, seq);
`

const itemColumns = `campaign_id, item_id, title, price, currency, rating, review_count, sales_rank,
	images, features, quality_score, link, browse_node, status, discovered_at, posted_at, rejected_at, reject_reason`

// PostgresStorage implements Store using PostgreSQL
type PostgresStorage struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStorage)(nil)

// NewPostgresPool creates a connection pool and verifies connectivity
func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolConf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolConf.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresStorage creates the storage and ensures the schema exists
func NewPostgresStorage(ctx context.Context, pool *pgxpool.Pool) (*PostgresStorage, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

// Campaign methods

// CreateCampaign stores a new campaign and assigns its ID
func (s *PostgresStorage) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return err
	}
	status, err := initialStatus(c)
	if err != nil {
		return err
	}

	params, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		err := tx.QueryRow(ctx, `
			INSERT INTO campaigns (name, status, params, cadence_ns, owner_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING id`,
			c.Name, string(status), params, int64(c.Cadence.Interval), c.OwnerID, now,
		).Scan(&c.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrNameTaken
			}
			return fmt.Errorf("failed to insert campaign: %w", err)
		}

		c.Status = status
		c.CreatedAt = now
		c.UpdatedAt = now
		return replaceWindows(ctx, tx, c.ID, c.Windows)
	})
}

// GetCampaign retrieves a campaign by ID
func (s *PostgresStorage) GetCampaign(ctx context.Context, id int64) (*campaign.Campaign, error) {
	return s.loadCampaign(ctx, s.pool, `WHERE id = $1`, id)
}

// GetCampaignByName retrieves a campaign by its unique name
func (s *PostgresStorage) GetCampaignByName(ctx context.Context, name string) (*campaign.Campaign, error) {
	return s.loadCampaign(ctx, s.pool, `WHERE name = $1`, strings.TrimSpace(name))
}

// ListCampaigns returns campaigns ordered by ID
func (s *PostgresStorage) ListCampaigns(ctx context.Context, filter campaign.ListFilter) ([]*campaign.Campaign, error) {
	query := campaignSelect + ` WHERE ($1 = '' OR status = $1) ORDER BY id OFFSET $2`
	args := []any{string(filter.Status), filter.Offset}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanCampaign)
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaigns: %w", err)
	}

	for _, c := range out {
		if c.Windows, err = loadWindows(ctx, s.pool, c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateCampaign updates name, params, cadence and owner of a campaign
func (s *PostgresStorage) UpdateCampaign(ctx context.Context, c *campaign.Campaign) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return campaign.ErrInvalidName
	}
	if c.Cadence.Interval < 0 {
		return fmt.Errorf("negative cadence interval")
	}
	params, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		stored, err := s.lockCampaign(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if stored.Status == campaign.StatusArchived {
			return ErrArchived
		}

		_, err = tx.Exec(ctx, `
			UPDATE campaigns SET name = $2, params = $3, cadence_ns = $4, owner_id = $5, updated_at = now()
			WHERE id = $1`,
			c.ID, c.Name, params, int64(c.Cadence.Interval), c.OwnerID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrNameTaken
			}
			return fmt.Errorf("failed to update campaign: %w", err)
		}

		updated, err := s.loadCampaign(ctx, tx, `WHERE id = $1`, c.ID)
		if err != nil {
			return err
		}
		*c = *updated
		return nil
	})
}

// SetStatus moves a campaign through its lifecycle
func (s *PostgresStorage) SetStatus(ctx context.Context, id int64, status campaign.Status) (*campaign.Campaign, error) {
	var out *campaign.Campaign

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := s.lockCampaign(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(c, status); err != nil {
			return err
		}

		if status == campaign.StatusArchived {
			if _, err := tx.Exec(ctx, `DELETE FROM product_queue WHERE campaign_id = $1 AND status <> 'posted'`, id); err != nil {
				return fmt.Errorf("failed to discard queue: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE campaigns SET status = $2, updated_at = now() WHERE id = $1`, id, string(status)); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		out, err = s.loadCampaign(ctx, tx, `WHERE id = $1`, id)
		return err
	})

	return out, err
}

// SetWindows replaces the timing windows of a campaign
func (s *PostgresStorage) SetWindows(ctx context.Context, id int64, windows []campaign.Window) (*campaign.Campaign, error) {
	if err := campaign.ValidateWindows(windows); err != nil {
		return nil, err
	}

	var out *campaign.Campaign
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := s.lockCampaign(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status == campaign.StatusArchived {
			return ErrArchived
		}

		if err := replaceWindows(ctx, tx, id, windows); err != nil {
			return err
		}
		status := statusAfterWindows(c, windows)
		if _, err := tx.Exec(ctx, `UPDATE campaigns SET status = $2, updated_at = now() WHERE id = $1`, id, string(status)); err != nil {
			return fmt.Errorf("failed to update campaign: %w", err)
		}

		out, err = s.loadCampaign(ctx, tx, `WHERE id = $1`, id)
		return err
	})

	return out, err
}

// DeleteCampaign removes a campaign; windows, items and post records cascade
func (s *PostgresStorage) DeleteCampaign(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// Queue methods

// Enqueue adds an item to a campaign queue. A rejected item with the same ID
// is replaced; queued and posted ones are left untouched.
func (s *PostgresStorage) Enqueue(ctx context.Context, campaignID int64, item *campaign.Item) (bool, error) {
	if item == nil || strings.TrimSpace(item.ID) == "" {
		return false, fmt.Errorf("item id is required")
	}

	stored := queuedCopy(item, campaignID)

	added := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM campaigns WHERE id = $1 FOR SHARE`, campaignID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCampaignNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load campaign: %w", err)
		}
		if campaign.Status(status) == campaign.StatusArchived {
			return ErrArchived
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO product_queue (`+itemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'queued', $14, NULL, NULL, '')
			ON CONFLICT (campaign_id, item_id) DO UPDATE SET
				title = EXCLUDED.title, price = EXCLUDED.price, currency = EXCLUDED.currency,
				rating = EXCLUDED.rating, review_count = EXCLUDED.review_count, sales_rank = EXCLUDED.sales_rank,
				images = EXCLUDED.images, features = EXCLUDED.features, quality_score = EXCLUDED.quality_score,
				link = EXCLUDED.link, browse_node = EXCLUDED.browse_node, status = 'queued',
				discovered_at = EXCLUDED.discovered_at, posted_at = NULL, rejected_at = NULL, reject_reason = ''
			WHERE product_queue.status = 'rejected'`,
			campaignID, stored.ID, stored.Title, stored.Price, stored.Currency, stored.Rating,
			stored.ReviewCount, stored.SalesRank, nonNil(stored.Images), nonNil(stored.Features),
			stored.Score, stored.Link, stored.BrowseNode, stored.DiscoveredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue item: %w", err)
		}
		added = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	if added {
		*item = stored
	}
	return added, nil
}

// PeekBest returns the highest ranked queued item without changing it
func (s *PostgresStorage) PeekBest(ctx context.Context, campaignID int64) (*campaign.Item, error) {
	items, err := s.TopN(ctx, campaignID, 1)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// TopN returns up to n queued items in dequeue order
func (s *PostgresStorage) TopN(ctx context.Context, campaignID int64, n int) ([]*campaign.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM product_queue
		WHERE campaign_id = $1 AND status = 'queued'
		ORDER BY quality_score DESC, discovered_at ASC, item_id ASC`
	args := []any{campaignID}
	if n > 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}
	return s.queryItems(ctx, query, args...)
}

// MarkPosted transitions a queued item to posted
func (s *PostgresStorage) MarkPosted(ctx context.Context, campaignID int64, itemID string, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return markPostedTx(ctx, tx, campaignID, itemID, at)
	})
}

// MarkRejected transitions a queued item to rejected
func (s *PostgresStorage) MarkRejected(ctx context.Context, campaignID int64, itemID, reason string, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE product_queue SET status = 'rejected', rejected_at = $3, reject_reason = $4
			WHERE campaign_id = $1 AND item_id = $2 AND status = 'queued'`,
			campaignID, itemID, at.UTC(), reason)
		if err != nil {
			return fmt.Errorf("failed to reject item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missingOrNotQueued(ctx, tx, campaignID, itemID)
		}
		return nil
	})
}

// Depth returns the number of queued items of a campaign
func (s *PostgresStorage) Depth(ctx context.Context, campaignID int64) (int, error) {
	var depth int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM product_queue WHERE campaign_id = $1 AND status = 'queued'`,
		campaignID).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return depth, nil
}

// GetItem retrieves an item of a campaign
func (s *PostgresStorage) GetItem(ctx context.Context, campaignID int64, itemID string) (*campaign.Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM product_queue WHERE campaign_id = $1 AND item_id = $2`, campaignID, itemID)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// ListItems returns items of a campaign ordered by item ID
func (s *PostgresStorage) ListItems(ctx context.Context, campaignID int64, filter ItemFilter) ([]*campaign.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM product_queue
		WHERE campaign_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY item_id OFFSET $3`
	args := []any{campaignID, string(filter.Status), filter.Offset}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}
	return s.queryItems(ctx, query, args...)
}

// Post history

// CommitPost marks the item posted, sets the campaign last post time and
// appends the post records in one transaction
func (s *PostgresStorage) CommitPost(ctx context.Context, commit *Commit) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := s.lockCampaign(ctx, tx, commit.CampaignID)
		if err != nil {
			return err
		}

		err = markPostedTx(ctx, tx, commit.CampaignID, commit.ItemID, commit.PostedAt)
		if err != nil && !(errors.Is(err, ErrItemNotFound) && c.Status == campaign.StatusArchived) {
			return err
		}

		posted := commit.PostedAt.UTC()
		if _, err := tx.Exec(ctx, `UPDATE campaigns SET last_post_time = $2, updated_at = now() WHERE id = $1`, commit.CampaignID, posted); err != nil {
			return fmt.Errorf("failed to update last post time: %w", err)
		}

		for _, rec := range commit.Records {
			rec.CampaignID = commit.CampaignID
			rec.ItemID = commit.ItemID
			if rec.PostedAt.IsZero() {
				rec.PostedAt = posted
			}
			var seq int64
			err := tx.QueryRow(ctx, `
				INSERT INTO post_log (id, campaign_id, channel, item_id, link, posted_at)
				VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
				rec.ID, rec.CampaignID, rec.Channel, rec.ItemID, rec.Link, rec.PostedAt,
			).Scan(&seq)
			if err != nil {
				return fmt.Errorf("failed to append post record: %w", err)
			}
			rec.Seq = uint64(seq)
		}
		return nil
	})
}

// ListPosts returns post records with a sequence greater than filter.After
func (s *PostgresStorage) ListPosts(ctx context.Context, filter PostFilter) ([]*campaign.PostRecord, error) {
	if filter.After > math.MaxInt64 {
		return nil, nil
	}
	query := `SELECT seq, id, campaign_id, channel, item_id, link, posted_at FROM post_log
		WHERE seq > $1 AND ($2 = 0 OR campaign_id = $2) ORDER BY seq`
	args := []any{int64(filter.After), filter.CampaignID}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*campaign.PostRecord, error) {
		var rec campaign.PostRecord
		var seq int64
		err := row.Scan(&seq, &rec.ID, &rec.CampaignID, &rec.Channel, &rec.ItemID, &rec.Link, &rec.PostedAt)
		rec.Seq = uint64(seq)
		return &rec, err
	})
}

// Cleanup methods

// ExpireQueued rejects queued items discovered before now-maxAge
func (s *PostgresStorage) ExpireQueued(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE product_queue SET status = 'rejected', rejected_at = $2, reject_reason = 'expired'
		WHERE status = 'queued' AND discovered_at < $1`,
		now.Add(-maxAge), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire queued items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeRejected deletes rejected items older than maxAge
func (s *PostgresStorage) PurgeRejected(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM product_queue WHERE status = 'rejected' AND rejected_at < $1`,
		now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to purge rejected items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats returns store statistics
func (s *PostgresStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Campaigns: make(map[campaign.Status]int64)}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM campaigns GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count campaigns: %w", err)
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Campaigns[campaign.Status(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'queued'),
			count(*) FILTER (WHERE status = 'posted'),
			count(*) FILTER (WHERE status = 'rejected'),
			(SELECT count(*) FROM post_log)
		FROM product_queue`).Scan(&stats.Queued, &stats.Posted, &stats.Rejected, &stats.Posts)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	return stats, nil
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// helpers

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const campaignSelect = `SELECT id, name, status, params, cadence_ns, owner_id, last_post_time, created_at, updated_at FROM campaigns`

func scanCampaign(row pgx.CollectableRow) (*campaign.Campaign, error) {
	var c campaign.Campaign
	var status string
	var params []byte
	var cadence int64
	err := row.Scan(&c.ID, &c.Name, &status, &params, &cadence, &c.OwnerID, &c.LastPostTime, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = campaign.Status(status)
	c.Cadence = campaign.Every(time.Duration(cadence))
	if len(params) > 0 {
		if err := json.Unmarshal(params, &c.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	return &c, nil
}

func (s *PostgresStorage) loadCampaign(ctx context.Context, q querier, where string, arg any) (*campaign.Campaign, error) {
	rows, err := q.Query(ctx, campaignSelect+" "+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	c, err := pgx.CollectOneRow(rows, scanCampaign)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}
	if c.Windows, err = loadWindows(ctx, q, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// lockCampaign loads a campaign with a row lock held until the transaction ends
func (s *PostgresStorage) lockCampaign(ctx context.Context, tx pgx.Tx, id int64) (*campaign.Campaign, error) {
	rows, err := tx.Query(ctx, campaignSelect+` WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock campaign: %w", err)
	}
	c, err := pgx.CollectOneRow(rows, scanCampaign)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}
	if c.Windows, err = loadWindows(ctx, tx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func loadWindows(ctx context.Context, q querier, campaignID int64) ([]campaign.Window, error) {
	rows, err := q.Query(ctx, `
		SELECT day_of_week, start_time, end_time FROM campaign_windows
		WHERE campaign_id = $1 ORDER BY day_of_week, start_time`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load windows: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.Window, error) {
		var w campaign.Window
		var day int16
		var start, end int32
		err := row.Scan(&day, &start, &end)
		w.Day, w.Start, w.End = int(day), campaign.TimeOfDay(start), campaign.TimeOfDay(end)
		return w, err
	})
}

func replaceWindows(ctx context.Context, tx pgx.Tx, campaignID int64, windows []campaign.Window) error {
	if _, err := tx.Exec(ctx, `DELETE FROM campaign_windows WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to clear windows: %w", err)
	}
	if len(windows) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(windows))
	for _, w := range windows {
		rows = append(rows, []any{campaignID, int16(w.Day), int32(w.Start), int32(w.End)})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"campaign_windows"},
		[]string{"campaign_id", "day_of_week", "start_time", "end_time"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to store windows: %w", err)
	}
	return nil
}

func (s *PostgresStorage) queryItems(ctx context.Context, query string, args ...any) ([]*campaign.Item, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.CollectableRow) (*campaign.Item, error) {
	var it campaign.Item
	var status string
	err := row.Scan(&it.CampaignID, &it.ID, &it.Title, &it.Price, &it.Currency, &it.Rating,
		&it.ReviewCount, &it.SalesRank, &it.Images, &it.Features, &it.Score, &it.Link,
		&it.BrowseNode, &status, &it.DiscoveredAt, &it.PostedAt, &it.RejectedAt, &it.RejectReason)
	it.Status = campaign.ItemStatus(status)
	return &it, err
}

func markPostedTx(ctx context.Context, tx pgx.Tx, campaignID int64, itemID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE product_queue SET status = 'posted', posted_at = $3
		WHERE campaign_id = $1 AND item_id = $2 AND status = 'queued'`,
		campaignID, itemID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark item posted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missingOrNotQueued(ctx, tx, campaignID, itemID)
	}
	return nil
}

func missingOrNotQueued(ctx context.Context, tx pgx.Tx, campaignID int64, itemID string) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM product_queue WHERE campaign_id = $1 AND item_id = $2)`,
		campaignID, itemID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check item: %w", err)
	}
	if !exists {
		return ErrItemNotFound
	}
	return ErrNotQueued
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
