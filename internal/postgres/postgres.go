// Package postgres implements the backing persistence service over a hosted
// Postgres. Every query is scoped by the owning user; change notifications
// ride on LISTEN/NOTIFY (see schema.sql for the trigger).
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	appLog "opscal/internal/log"
	"opscal/internal/model"
)

// notifyChannel must match the pg_notify channel used by the trigger in
// schema.sql.
const notifyChannel = "calendar_events"

// Connect opens a connection pool to Postgres and verifies it with a ping.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse config error: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgx connect error: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping error: %w", err)
	}

	return pool, nil
}

// DB implements store.Persistence. All change subscriptions share a single
// LISTEN connection; notifications are routed to subscribers by the owner id
// the trigger puts in the payload.
type DB struct {
	pool *pgxpool.Pool

	// listenCtx bounds the shared listener's lifetime.
	listenCtx context.Context

	mu        sync.Mutex
	subs      *subscribers
	listening bool
}

// New wraps a connection pool. ctx bounds the lifetime of the shared
// notification listener.
func New(ctx context.Context, pool *pgxpool.Pool) *DB {
	return &DB{
		pool:      pool,
		listenCtx: ctx,
		subs:      newSubscribers(),
	}
}

const eventColumns = `id, title, event_type, start_time, end_time,
	description, location, employee_id, candidate_id, team_id, status, color`

// List returns the owner's events ordered by creation time, so the local
// collection keeps stable insertion order across reloads.
func (d *DB) List(ctx context.Context, owner string) ([]model.CalendarEvent, error) {
	rows, err := d.pool.Query(ctx, `
SELECT `+eventColumns+`
FROM calendar_events
WHERE owner_id = $1
ORDER BY created_at, id
`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.CalendarEvent
	for rows.Next() {
		var e model.CalendarEvent
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Type, &e.Start, &e.End,
			&e.Description, &e.Location,
			&e.EmployeeID, &e.CandidateID, &e.TeamID,
			&e.Status, &e.Color,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (d *DB) Insert(ctx context.Context, owner string, ev model.CalendarEvent) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO calendar_events
	(id, owner_id, title, event_type, start_time, end_time,
	 description, location, employee_id, candidate_id, team_id, status, color)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`, ev.ID, owner, ev.Title, ev.Type, ev.Start, ev.End,
		ev.Description, ev.Location, ev.EmployeeID, ev.CandidateID, ev.TeamID,
		ev.Status, ev.Color)
	return err
}

func (d *DB) Update(ctx context.Context, owner string, ev model.CalendarEvent) error {
	tag, err := d.pool.Exec(ctx, `
UPDATE calendar_events
SET title = $3, event_type = $4, start_time = $5, end_time = $6,
	description = $7, location = $8, employee_id = $9, candidate_id = $10,
	team_id = $11, status = $12, color = $13, updated_at = now()
WHERE owner_id = $1 AND id = $2
`, owner, ev.ID, ev.Title, ev.Type, ev.Start, ev.End,
		ev.Description, ev.Location, ev.EmployeeID, ev.CandidateID, ev.TeamID,
		ev.Status, ev.Color)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", ev.ID)
	}
	return nil
}

// Delete removes the event row. A missing row is not an error, which keeps
// double deletes idempotent end to end.
func (d *DB) Delete(ctx context.Context, owner, id string) error {
	_, err := d.pool.Exec(ctx, `
DELETE FROM calendar_events
WHERE owner_id = $1 AND id = $2
`, owner, id)
	return err
}

// Subscribe registers a change channel for the given owner on the shared
// listener, starting it on first use. The channel is closed and the
// registration dropped when ctx ends. One connection serves every
// subscription, so the pool stays available for queries no matter how many
// sessions are live.
func (d *DB) Subscribe(ctx context.Context, owner string) (<-chan struct{}, error) {
	d.mu.Lock()
	if !d.listening {
		conn, err := d.acquireListen()
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		d.listening = true
		go d.listen(conn)
	}
	d.mu.Unlock()

	ch := d.subs.add(owner)
	go func() {
		<-ctx.Done()
		d.subs.remove(owner, ch)
		close(ch)
	}()
	return ch, nil
}

func (d *DB) acquireListen() (*pgxpool.Conn, error) {
	conn, err := d.pool.Acquire(d.listenCtx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(d.listenCtx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

// listen routes notifications until listenCtx ends. On connection loss it
// re-acquires with a delay; the periodic full reconcile covers the gap.
func (d *DB) listen(conn *pgxpool.Conn) {
	for {
		n, err := conn.Conn().WaitForNotification(d.listenCtx)
		if err == nil {
			d.subs.notify(n.Payload)
			continue
		}
		conn.Release()
		if d.listenCtx.Err() != nil {
			return
		}
		appLog.Error("change feed connection lost, reconnecting", err)
		for {
			time.Sleep(5 * time.Second)
			if d.listenCtx.Err() != nil {
				return
			}
			next, err := d.acquireListen()
			if err != nil {
				appLog.Warn("change feed reconnect failed", "err", err)
				continue
			}
			conn = next
			break
		}
	}
}
