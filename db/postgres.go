package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"go-redzone/phone"
	"go-redzone/types"
)

const (
	pgReportsTable    = "crisis_tweets_classification"
	pgAggregatesTable = "crisis_location_aggregate"
	pgUsersTable      = "active_users"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS crisis_tweets_classification (
    id BIGSERIAL PRIMARY KEY,
    tweet_text TEXT NOT NULL UNIQUE,
    disaster_type TEXT NOT NULL,
    informativeness TEXT NOT NULL,
    humanitarian_categories TEXT[] NOT NULL DEFAULT '{}',
    location TEXT NOT NULL,
    damage_severity TEXT NOT NULL,
    seriousness_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    image_url TEXT NOT NULL DEFAULT '',
    reported_at TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS crisis_tweets_location_idx ON crisis_tweets_classification (location, created_at DESC);

CREATE TABLE IF NOT EXISTS crisis_location_aggregate (
    location TEXT PRIMARY KEY,
    disaster_type TEXT NOT NULL,
    aggregate_score DOUBLE PRECISION NOT NULL,
    tweet_count INTEGER NOT NULL,
    formatted_address TEXT NOT NULL DEFAULT '',
    lat DOUBLE PRECISION NOT NULL DEFAULT 0,
    lng DOUBLE PRECISION NOT NULL DEFAULT 0,
    new_location BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS active_users (
    phone_number TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL,
    address_key TEXT NOT NULL,
    emergency_contacts TEXT[] NOT NULL DEFAULT '{}',
    active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS active_users_address_key_idx ON active_users (address_key);
`

var aggregateColumns = []string{
	"location", "disaster_type", "aggregate_score", "tweet_count",
	"formatted_address", "lat", "lng", "new_location", "updated_at",
}

// Postgres implements the store interfaces on a single database.
type Postgres struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ReportStore    = (*Postgres)(nil)
	_ AggregateStore = (*Postgres)(nil)
	_ UserDirectory  = (*Postgres)(nil)
)

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Migrate creates the tables if they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) InsertIfAbsent(ctx context.Context, r types.ClassifiedReport) (bool, error) {
	if strings.TrimSpace(r.TweetText) == "" {
		return false, ErrEmptyText
	}
	query, args, err := p.sb.Insert(pgReportsTable).
		Columns("tweet_text", "disaster_type", "informativeness", "humanitarian_categories",
			"location", "damage_severity", "seriousness_score", "image_url", "reported_at").
		Values(r.TweetText, string(r.DisasterType), r.Informativeness, pq.Array(r.HumanitarianCategories),
			r.Location, r.DamageSeverity, r.SeriousnessScore, r.ImageURL, r.Timestamp).
		Suffix("ON CONFLICT (tweet_text) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) Exists(ctx context.Context, text string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM crisis_tweets_classification WHERE tweet_text = $1)`, text).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("report exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) ListByLocation(ctx context.Context, location string, limit int) ([]types.ClassifiedReport, error) {
	b := p.sb.Select("tweet_text", "disaster_type", "informativeness", "humanitarian_categories",
		"location", "damage_severity", "seriousness_score", "image_url", "reported_at").
		From(pgReportsTable).
		Where(sq.Eq{"location": location}).
		OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []types.ClassifiedReport
	for rows.Next() {
		var r types.ClassifiedReport
		var dt string
		if err := rows.Scan(&r.TweetText, &dt, &r.Informativeness, pq.Array(&r.HumanitarianCategories),
			&r.Location, &r.DamageSeverity, &r.SeriousnessScore, &r.ImageURL, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.DisasterType = types.DisasterType(dt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, location string) (*types.LocationAggregate, error) {
	return p.getAggregate(ctx, p.db, location)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (p *Postgres) getAggregate(ctx context.Context, q queryer, location string) (*types.LocationAggregate, error) {
	query, args, err := p.sb.Select(aggregateColumns...).
		From(pgAggregatesTable).
		Where(sq.Eq{"location": location}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	agg, err := scanAggregate(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate %s: %w", location, err)
	}
	return &agg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAggregate(row rowScanner) (types.LocationAggregate, error) {
	var agg types.LocationAggregate
	var dt string
	err := row.Scan(&agg.Location, &dt, &agg.AggregateScore, &agg.TweetCount,
		&agg.FormattedAddress, &agg.Lat, &agg.Lng, &agg.NewLocation, &agg.UpdatedAt)
	agg.DisasterType = types.DisasterType(dt)
	return agg, err
}

// Update serializes writers on a transaction scoped advisory lock keyed by the
// location, then reads, folds and writes inside the same transaction.
func (p *Postgres) Update(ctx context.Context, location string, fn UpdateFunc) (types.LocationAggregate, error) {
	if location == "" {
		return types.LocationAggregate{}, ErrEmptyLocation
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return types.LocationAggregate{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, location); err != nil {
		return types.LocationAggregate{}, fmt.Errorf("lock %s: %w", location, err)
	}

	current, err := p.getAggregate(ctx, tx, location)
	if err != nil {
		return types.LocationAggregate{}, err
	}

	next := fn(current)
	next.Location = location
	next.UpdatedAt = time.Now().UTC()
	if current == nil {
		next.NewLocation = true
	} else {
		next.FormattedAddress = current.FormattedAddress
		next.Lat, next.Lng = current.Lat, current.Lng
		next.NewLocation = current.NewLocation
	}

	query, args, err := p.sb.Insert(pgAggregatesTable).
		Columns("location", "disaster_type", "aggregate_score", "tweet_count", "new_location", "updated_at").
		Values(next.Location, string(next.DisasterType), next.AggregateScore, next.TweetCount, next.NewLocation, next.UpdatedAt).
		Suffix(`ON CONFLICT (location) DO UPDATE
              SET disaster_type = EXCLUDED.disaster_type,
                  aggregate_score = EXCLUDED.aggregate_score,
                  tweet_count = EXCLUDED.tweet_count,
                  updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return types.LocationAggregate{}, fmt.Errorf("build upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return types.LocationAggregate{}, fmt.Errorf("upsert aggregate %s: %w", location, err)
	}
	if err := tx.Commit(); err != nil {
		return types.LocationAggregate{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (p *Postgres) List(ctx context.Context, q AggregateQuery) ([]types.LocationAggregate, error) {
	b := p.sb.Select(aggregateColumns...).From(pgAggregatesTable)
	if q.OnlyNew {
		b = b.Where(sq.Eq{"new_location": true})
	}
	if q.DisasterType != "" {
		b = b.Where(sq.Eq{"disaster_type": q.DisasterType})
	}
	if q.MinScore > 0 {
		b = b.Where(sq.GtOrEq{"aggregate_score": q.MinScore})
	}
	b = b.OrderBy("aggregate_score DESC", "location")
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var out []types.LocationAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (p *Postgres) SetGeocode(ctx context.Context, location string, point types.GeoPoint) error {
	query, args, err := p.sb.Update(pgAggregatesTable).
		Set("formatted_address", point.FormattedAddress).
		Set("lat", point.Lat).
		Set("lng", point.Lng).
		Set("new_location", false).
		Where(sq.Eq{"location": location}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update geocode %s: %w", location, err)
	}
	return nil
}

func (p *Postgres) FindByExactAddress(ctx context.Context, location string) ([]types.User, error) {
	key := AddressKey(location)
	if key == "" {
		return nil, nil
	}
	query, args, err := p.sb.Select("phone_number", "name", "address", "address_key", "emergency_contacts", "active").
		From(pgUsersTable).
		Where(sq.And{sq.Eq{"address_key": key}, sq.Eq{"active": true}}).
		OrderBy("phone_number").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.PhoneNumber, &u.Name, &u.Address, &u.AddressKey,
			pq.Array(&u.EmergencyContacts), &u.Active); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return users, nil
}

func (p *Postgres) GetEmergencyContacts(ctx context.Context, phoneNumber string) ([]string, error) {
	var contacts []string
	err := p.db.QueryRowContext(ctx,
		`SELECT emergency_contacts FROM active_users WHERE phone_number = $1`, phone.Canonical(phoneNumber)).
		Scan(pq.Array(&contacts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get emergency contacts: %w", err)
	}
	return contacts, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, user types.User) error {
	u, err := prepareUser(user)
	if err != nil {
		return err
	}
	query, args, err := p.sb.Insert(pgUsersTable).
		Columns("phone_number", "name", "address", "address_key", "emergency_contacts", "active").
		Values(u.PhoneNumber, u.Name, u.Address, u.AddressKey, pq.Array(u.EmergencyContacts), u.Active).
		Suffix(`ON CONFLICT (phone_number) DO UPDATE
              SET name = EXCLUDED.name,
                  address = EXCLUDED.address,
                  address_key = EXCLUDED.address_key,
                  emergency_contacts = EXCLUDED.emergency_contacts,
                  active = EXCLUDED.active`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
