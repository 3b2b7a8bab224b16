package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldplan/internal/model"
)

// Postgres backs the store with PostgreSQL via database/sql over pgx.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// MigrateDir applies every .sql file in dir in lexical order. Dev helper;
// production deployments run migrations out of band.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(sqlBytes)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) LoadInterventions(ctx context.Context, from, to time.Time) ([]model.Intervention, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, zone, priority, duration_min, lat, lng, status,
		       earliest_date, latest_date, technician_id::text, scheduled_start
		FROM interventions
		WHERE status IN ('pending','in_progress')
		  AND lat IS NOT NULL AND lng IS NOT NULL
		  AND (earliest_date IS NULL OR earliest_date <= $2)
		  AND (latest_date IS NULL OR latest_date >= $1)
		ORDER BY id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Intervention{}
	for rows.Next() {
		var iv model.Intervention
		var lat, lng float64
		var earliest, latest, scheduled sql.NullTime
		var techID sql.NullString
		if err := rows.Scan(&iv.ID, &iv.Zone, &iv.Priority, &iv.DurationMinutes, &lat, &lng, &iv.Status,
			&earliest, &latest, &techID, &scheduled); err != nil {
			return nil, err
		}
		iv.Location = &model.GeoPoint{Lat: lat, Lng: lng}
		if earliest.Valid {
			t := earliest.Time
			iv.EarliestDate = &t
		}
		if latest.Valid {
			t := latest.Time
			iv.LatestDate = &t
		}
		iv.TechnicianID = techID.String
		if scheduled.Valid {
			t := scheduled.Time
			iv.ScheduledStart = &t
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadTechnicians(ctx context.Context, from, to time.Time) ([]model.Technician, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, COALESCE(name,''), role, active, zones, COALESCE(availability,'[]')
		FROM technicians
		WHERE active AND role IN ('technician','manager')
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Technician{}
	for rows.Next() {
		var t model.Technician
		var zones, avail []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Role, &t.Active, &zones, &avail); err != nil {
			return nil, err
		}
		if len(zones) > 0 {
			if err := json.Unmarshal(zones, &t.Zones); err != nil {
				return nil, err
			}
		}
		if len(avail) > 0 {
			_ = json.Unmarshal(avail, &t.Availability)
		}
		t.Availability = overlappingAvailability(t.Availability, from, to)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) CreatePlanning(ctx context.Context, pl model.Planning) (model.Planning, error) {
	if pl.ID == "" {
		pl.ID = uuid.New().String()
	}
	if pl.CreatedAt.IsZero() {
		pl.CreatedAt = time.Now().UTC()
	}
	params, _ := json.Marshal(pl.Parameters)
	stats, _ := json.Marshal(pl.Statistics)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Planning{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plannings (id, name, date_from, date_to, algorithm, score, computation_ms, parameters, status, created_by, created_at, statistics)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		pl.ID, pl.Name, pl.DateFrom, pl.DateTo, pl.Algorithm, pl.Score, pl.ComputationMs, params, pl.Status, nullIfEmpty(pl.CreatedBy), pl.CreatedAt, stats)
	if err != nil {
		return model.Planning{}, err
	}
	for i := range pl.Slots {
		s := &pl.Slots[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		s.PlanningID = pl.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO planning_slots (id, planning_id, intervention_id, technician_id, start_at, end_at, seq)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			s.ID, s.PlanningID, s.InterventionID, s.TechnicianID, s.Start, s.End, s.Sequence)
		if err != nil {
			return model.Planning{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Planning{}, err
	}
	return pl, nil
}

func (p *Postgres) GetPlanning(ctx context.Context, id string) (model.Planning, error) {
	var pl model.Planning
	var params, stats []byte
	var createdBy sql.NullString
	var appliedAt sql.NullTime
	row := p.db.QueryRowContext(ctx, `
		SELECT id::text, name, date_from, date_to, algorithm, score, computation_ms, parameters, status, created_by, created_at, applied_at, statistics
		FROM plannings WHERE id=$1`, id)
	if err := row.Scan(&pl.ID, &pl.Name, &pl.DateFrom, &pl.DateTo, &pl.Algorithm, &pl.Score, &pl.ComputationMs,
		&params, &pl.Status, &createdBy, &pl.CreatedAt, &appliedAt, &stats); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pl, ErrNotFound
		}
		return pl, err
	}
	pl.CreatedBy = createdBy.String
	if appliedAt.Valid {
		t := appliedAt.Time
		pl.AppliedAt = &t
	}
	_ = json.Unmarshal(params, &pl.Parameters)
	_ = json.Unmarshal(stats, &pl.Statistics)

	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, intervention_id::text, technician_id::text, start_at, end_at, seq
		FROM planning_slots WHERE planning_id=$1 ORDER BY technician_id, seq`, id)
	if err != nil {
		return pl, err
	}
	defer rows.Close()
	for rows.Next() {
		s := model.Slot{PlanningID: pl.ID}
		if err := rows.Scan(&s.ID, &s.InterventionID, &s.TechnicianID, &s.Start, &s.End, &s.Sequence); err != nil {
			return pl, err
		}
		pl.Slots = append(pl.Slots, s)
	}
	return pl, rows.Err()
}

func (p *Postgres) ListPlannings(ctx context.Context, status, cursor string, limit int) ([]model.Planning, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text FROM plannings`
	args := []any{}
	var cond []string
	if status != "" {
		args = append(args, status)
		cond = append(cond, `status=$1`)
	}
	if cursor != "" {
		args = append(args, cursor)
		cond = append(cond, `created_at > (SELECT created_at FROM plannings WHERE id=$`+strconv.Itoa(len(args))+`)`)
	}
	if len(cond) > 0 {
		q += ` WHERE ` + strings.Join(cond, ` AND `)
	}
	args = append(args, limit)
	q += ` ORDER BY created_at LIMIT $` + strconv.Itoa(len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	out := []model.Planning{}
	for _, id := range ids {
		pl, err := p.GetPlanning(ctx, id)
		if err != nil {
			return nil, "", err
		}
		out = append(out, pl)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) ApplyPlanning(ctx context.Context, id, appliedBy string) (model.Planning, int, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Planning{}, 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	row := tx.QueryRowContext(ctx, `SELECT status FROM plannings WHERE id=$1 FOR UPDATE`, id)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Planning{}, 0, false, ErrNotFound
		}
		return model.Planning{}, 0, false, err
	}
	if status == model.PlanningApplied {
		_ = tx.Rollback()
		pl, err := p.GetPlanning(ctx, id)
		return pl, 0, true, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE interventions i
		SET technician_id = s.technician_id,
		    scheduled_start = s.start_at,
		    status = 'assigned'
		FROM planning_slots s
		WHERE s.planning_id = $1 AND i.id = s.intervention_id`, id)
	if err != nil {
		return model.Planning{}, 0, false, err
	}
	updated, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `UPDATE plannings SET status='applied', applied_at=now(), applied_by=$2 WHERE id=$1`, id, nullIfEmpty(appliedBy))
	if err != nil {
		return model.Planning{}, 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Planning{}, 0, false, err
	}
	pl, err := p.GetPlanning(ctx, id)
	return pl, int(updated), false, err
}

func (p *Postgres) ListParameterSets(ctx context.Context) ([]model.ParameterSet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, name, distance_weight, time_weight, priority_weight, cost_weight,
		       max_daily_duration_min, min_break_min, max_travel_km, is_default
		FROM parameter_sets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ParameterSet{}
	for rows.Next() {
		var ps model.ParameterSet
		if err := rows.Scan(&ps.ID, &ps.Name, &ps.DistanceWeight, &ps.TimeWeight, &ps.PriorityWeight, &ps.CostWeight,
			&ps.MaxDailyDurationMinutes, &ps.MinBreakMinutes, &ps.MaxTravelDistanceKm, &ps.Default); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (p *Postgres) GetParameterSet(ctx context.Context, id string) (model.ParameterSet, error) {
	var ps model.ParameterSet
	row := p.db.QueryRowContext(ctx, `
		SELECT id::text, name, distance_weight, time_weight, priority_weight, cost_weight,
		       max_daily_duration_min, min_break_min, max_travel_km, is_default
		FROM parameter_sets WHERE id=$1`, id)
	if err := row.Scan(&ps.ID, &ps.Name, &ps.DistanceWeight, &ps.TimeWeight, &ps.PriorityWeight, &ps.CostWeight,
		&ps.MaxDailyDurationMinutes, &ps.MinBreakMinutes, &ps.MaxTravelDistanceKm, &ps.Default); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ps, ErrNotFound
		}
		return ps, err
	}
	return ps, nil
}

func (p *Postgres) SaveParameterSet(ctx context.Context, ps model.ParameterSet) (model.ParameterSet, error) {
	if err := ps.ValidateWeights(); err != nil {
		return model.ParameterSet{}, err
	}
	if ps.ID == "" {
		ps.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO parameter_sets (id, name, distance_weight, time_weight, priority_weight, cost_weight,
		       max_daily_duration_min, min_break_min, max_travel_km, is_default)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
		       name=EXCLUDED.name, distance_weight=EXCLUDED.distance_weight, time_weight=EXCLUDED.time_weight,
		       priority_weight=EXCLUDED.priority_weight, cost_weight=EXCLUDED.cost_weight,
		       max_daily_duration_min=EXCLUDED.max_daily_duration_min, min_break_min=EXCLUDED.min_break_min,
		       max_travel_km=EXCLUDED.max_travel_km, is_default=EXCLUDED.is_default`,
		ps.ID, ps.Name, ps.DistanceWeight, ps.TimeWeight, ps.PriorityWeight, ps.CostWeight,
		ps.MaxDailyDurationMinutes, ps.MinBreakMinutes, ps.MaxTravelDistanceKm, ps.Default)
	if err != nil {
		return model.ParameterSet{}, err
	}
	return ps, nil
}

func (p *Postgres) LoadTravelCache(ctx context.Context, notBefore time.Time) ([]model.TravelCacheEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT loc_a, loc_b, dist_km, time_min, cost, computed_at
		FROM travel_cache WHERE computed_at >= $1`, notBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TravelCacheEntry{}
	for rows.Next() {
		var e model.TravelCacheEntry
		if err := rows.Scan(&e.LocA, &e.LocB, &e.DistanceKm, &e.TimeMin, &e.Cost, &e.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveTravelCache(ctx context.Context, entries []model.TravelCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, e := range entries {
		a, b := e.LocA, e.LocB
		if b < a {
			a, b = b, a
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO travel_cache (loc_a, loc_b, dist_km, time_min, cost, computed_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (loc_a, loc_b) DO UPDATE SET
			       dist_km=EXCLUDED.dist_km, time_min=EXCLUDED.time_min, cost=EXCLUDED.cost, computed_at=EXCLUDED.computed_at`,
			a, b, e.DistanceKm, e.TimeMin, e.Cost, e.ComputedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		id, req.URL, ev, nullIfEmpty(req.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions WHERE events ? $1`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &ev, &s.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions ORDER BY id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &ev, &s.Secret); err != nil {
			return nil, "", err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`,
		id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries
		WHERE status IN ('pending','retry') AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `
			UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3,
			       response_code=$4, latency_ms=$5, updated_at=now() WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(),
		       response_code=$2, latency_ms=$3, updated_at=now() WHERE id=$1`,
		id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2,
		       response_code=$3, latency_ms=$4, updated_at=now() WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

