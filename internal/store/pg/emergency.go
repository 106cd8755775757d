package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"resqlink.org/internal/emergency"
)

// scopeClause renders a visibility filter into a WHERE fragment over the
// user_id and village_id columns. ok=false means the scope admits no rows at
// all, so the caller can skip the query entirely.
func scopeClause(f emergency.Filter) (clause string, args []any, ok bool) {
	if f.OwnerID != "" {
		clause = "user_id = $1"
		args = append(args, f.OwnerID)
		if len(f.Villages) > 0 {
			in, inArgs := placeholders(f.Villages, len(args)+1)
			clause += " and village_id in (" + in + ")"
			args = append(args, inArgs...)
		}
		return clause, args, true
	}

	var parts []string
	if len(f.Villages) > 0 {
		in, inArgs := placeholders(f.Villages, len(args)+1)
		parts = append(parts, "village_id in ("+in+")")
		args = append(args, inArgs...)
	}
	if f.IncludeGlobal {
		parts = append(parts, "village_id = 0")
	}
	if len(parts) == 0 {
		return "", nil, false
	}
	if len(parts) == 1 {
		return parts[0], args, true
	}
	return "(" + strings.Join(parts, " or ") + ")", args, true
}

func placeholders(values []int64, start int) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return strings.Join(marks, ", "), args
}

// --- Reports ---

// CreateReport inserts the report and bumps the village counter in one
// transaction, so concurrent submissions never lose an increment.
func (s *Store) CreateReport(ctx context.Context, r *emergency.Report) error {
	attachments, err := json.Marshal(r.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into reports (id, user_id, village_id, description, latitude, longitude, attachments, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.UserID, r.VillageID, r.Description, r.Latitude, r.Longitude, attachments, r.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into villages (id, reports_today)
		values ($1, 1)
		on conflict (id) do update
		set reports_today = coalesce(villages.reports_today, 0) + 1
	`, r.VillageID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListReports(ctx context.Context, f emergency.Filter) ([]*emergency.Report, error) {
	clause, args, ok := scopeClause(f)
	if !ok {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, village_id, description, latitude, longitude, attachments, created_at
		from reports
		where `+clause+`
		order by created_at desc, id desc
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*emergency.Report
	for rows.Next() {
		var (
			r   emergency.Report
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.VillageID, &r.Description, &r.Latitude, &r.Longitude, &raw, &r.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments: %w", err)
			}
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (s *Store) GetReport(ctx context.Context, id string) (*emergency.Report, error) {
	var (
		r   emergency.Report
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, village_id, description, latitude, longitude, attachments, created_at
		from reports
		where id = $1
	`, id).Scan(&r.ID, &r.UserID, &r.VillageID, &r.Description, &r.Latitude, &r.Longitude, &raw, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emergency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &r, nil
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "reports", id)
}

// --- SOS ---

func (s *Store) CreateSOS(ctx context.Context, req *emergency.SOSRequest) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sos_requests (id, user_id, village_id, latitude, longitude, message, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, req.UserID, req.VillageID, req.Latitude, req.Longitude, req.Message, req.CreatedAt)
	return err
}

func (s *Store) ListSOS(ctx context.Context, f emergency.Filter) ([]*emergency.SOSRequest, error) {
	clause, args, ok := scopeClause(f)
	if !ok {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, village_id, latitude, longitude, message, created_at
		from sos_requests
		where `+clause+`
		order by created_at desc, id desc
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*emergency.SOSRequest
	for rows.Next() {
		var req emergency.SOSRequest
		if err := rows.Scan(&req.ID, &req.UserID, &req.VillageID, &req.Latitude, &req.Longitude, &req.Message, &req.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &req)
	}
	return result, rows.Err()
}

func (s *Store) GetSOS(ctx context.Context, id string) (*emergency.SOSRequest, error) {
	var req emergency.SOSRequest
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, village_id, latitude, longitude, message, created_at
		from sos_requests
		where id = $1
	`, id).Scan(&req.ID, &req.UserID, &req.VillageID, &req.Latitude, &req.Longitude, &req.Message, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emergency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) DeleteSOS(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "sos_requests", id)
}

func (s *Store) DeleteSOSByVillage(ctx context.Context, villageID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from sos_requests where village_id = $1`, villageID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// --- Notes ---

func (s *Store) CreateNote(ctx context.Context, n *emergency.Note) error {
	_, err := s.db.ExecContext(ctx, `
		insert into notes (id, user_id, village_id, title, body, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.UserID, n.VillageID, n.Title, n.Body, n.CreatedAt)
	return err
}

func (s *Store) ListNotes(ctx context.Context, f emergency.Filter) ([]*emergency.Note, error) {
	clause, args, ok := scopeClause(f)
	if !ok {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, village_id, title, body, created_at
		from notes
		where `+clause+`
		order by created_at desc, id desc
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*emergency.Note
	for rows.Next() {
		var n emergency.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.VillageID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

func (s *Store) GetNote(ctx context.Context, id string) (*emergency.Note, error) {
	var n emergency.Note
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, village_id, title, body, created_at
		from notes
		where id = $1
	`, id).Scan(&n.ID, &n.UserID, &n.VillageID, &n.Title, &n.Body, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emergency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) UpdateNote(ctx context.Context, n *emergency.Note) error {
	res, err := s.db.ExecContext(ctx, `
		update notes set title = $2, body = $3 where id = $1
	`, n.ID, n.Title, n.Body)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "notes", id)
}

// --- Announcements ---

func (s *Store) CreateAnnouncement(ctx context.Context, a *emergency.Announcement) error {
	_, err := s.db.ExecContext(ctx, `
		insert into announcements (id, user_id, village_id, title, body, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.UserID, a.VillageID, a.Title, a.Body, a.CreatedAt)
	return err
}

func (s *Store) ListAnnouncements(ctx context.Context, f emergency.Filter) ([]*emergency.Announcement, error) {
	clause, args, ok := scopeClause(f)
	if !ok {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, village_id, title, body, created_at
		from announcements
		where `+clause+`
		order by created_at desc, id desc
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*emergency.Announcement
	for rows.Next() {
		var a emergency.Announcement
		if err := rows.Scan(&a.ID, &a.UserID, &a.VillageID, &a.Title, &a.Body, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (s *Store) GetAnnouncement(ctx context.Context, id string) (*emergency.Announcement, error) {
	var a emergency.Announcement
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, village_id, title, body, created_at
		from announcements
		where id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.VillageID, &a.Title, &a.Body, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emergency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) DeleteAnnouncement(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "announcements", id)
}

// --- Polygons ---

func (s *Store) CreatePolygon(ctx context.Context, p *emergency.Polygon) error {
	_, err := s.db.ExecContext(ctx, `
		insert into polygons (id, user_id, village_id, label, coordinates, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.UserID, p.VillageID, p.Label, p.Coordinates, p.CreatedAt)
	return err
}

func (s *Store) ListPolygons(ctx context.Context, f emergency.Filter) ([]*emergency.Polygon, error) {
	clause, args, ok := scopeClause(f)
	if !ok {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, village_id, label, coordinates, created_at
		from polygons
		where `+clause+`
		order by created_at desc, id desc
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*emergency.Polygon
	for rows.Next() {
		var p emergency.Polygon
		if err := rows.Scan(&p.ID, &p.UserID, &p.VillageID, &p.Label, &p.Coordinates, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}

func (s *Store) GetPolygon(ctx context.Context, id string) (*emergency.Polygon, error) {
	var p emergency.Polygon
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, village_id, label, coordinates, created_at
		from polygons
		where id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.VillageID, &p.Label, &p.Coordinates, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emergency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdatePolygon(ctx context.Context, p *emergency.Polygon) error {
	res, err := s.db.ExecContext(ctx, `
		update polygons set label = $2, coordinates = $3 where id = $1
	`, p.ID, p.Label, p.Coordinates)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeletePolygon(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "polygons", id)
}

// --- Villages ---

func (s *Store) GetVillage(ctx context.Context, id int64) (*emergency.Village, error) {
	var v emergency.Village
	err := s.db.QueryRowContext(ctx, `
		select id, name, population, emergency_status, service_status, reports_today
		from villages
		where id = $1
	`, id).Scan(&v.ID, &v.Name, &v.Population, &v.EmergencyStatus, &v.ServiceStatus, &v.ReportsToday)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emergency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListVillages(ctx context.Context, f emergency.Filter) ([]*emergency.Village, error) {
	if len(f.Villages) == 0 {
		return nil, nil
	}
	in, args := placeholders(f.Villages, 1)
	rows, err := s.db.QueryContext(ctx, `
		select id, name, population, emergency_status, service_status, reports_today
		from villages
		where id in (`+in+`)
		order by id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*emergency.Village
	for rows.Next() {
		var v emergency.Village
		if err := rows.Scan(&v.ID, &v.Name, &v.Population, &v.EmergencyStatus, &v.ServiceStatus, &v.ReportsToday); err != nil {
			return nil, err
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}

func (s *Store) UpdateVillageStatus(ctx context.Context, id int64, emergencyStatus, serviceStatus string) error {
	res, err := s.db.ExecContext(ctx, `
		update villages set emergency_status = $2, service_status = $3 where id = $1
	`, id, emergencyStatus, serviceStatus)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- helpers ---

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from `+table+` where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return emergency.ErrNotFound
	}
	return nil
}
