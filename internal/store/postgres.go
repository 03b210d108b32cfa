package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freightdesk/refdata/internal/refdata"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the idempotent schema at startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// querier is the common surface of pgxpool.Pool and pgx.Tx, so the same store
// code runs inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (p *Postgres) DangerousGoods() DangerousGoodsStore { return &pgDangerousGoods{q: p.q} }
func (p *Postgres) Locations() LocationStore            { return &pgLocations{q: p.q} }

// WithTx runs fn in a transaction. Conflicting writes never abort the
// transaction: inserts use ON CONFLICT DO NOTHING and report duplicates via
// sentinel errors, so fn can recover from a duplicate and keep writing.
func (p *Postgres) WithTx(ctx context.Context, fn func(Store) error) error {
	if p.inTx {
		return fn(p)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Postgres{pool: p.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ----- dangerous goods -----

type pgDangerousGoods struct {
	q querier
}

const dgColumns = `id, un_number, proper_shipping_name, technical_name, class,
packing_group, labels, special_provisions, limited_quantity, excepted_quantity,
notes, is_active, created_at, updated_at`

func scanDangerousGood(row pgx.Row) (*refdata.DangerousGood, error) {
	var (
		dg    refdata.DangerousGood
		class int16
		pg    string
	)
	err := row.Scan(&dg.ID, &dg.UNNumber, &dg.ProperShippingName, &dg.TechnicalName,
		&class, &pg, &dg.Labels, &dg.SpecialProvisions, &dg.LimitedQuantity,
		&dg.ExceptedQuantity, &dg.Notes, &dg.IsActive, &dg.CreatedAt, &dg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	dg.Class = refdata.HazardClass(class)
	dg.PackingGroup = refdata.PackingGroup(pg)
	return &dg, nil
}

func (s *pgDangerousGoods) GetByUNNumber(ctx context.Context, unNumber string) (*refdata.DangerousGood, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+dgColumns+` FROM dangerous_goods WHERE un_number = $1`,
		refdata.NormalizeCode(unNumber))
	dg, err := scanDangerousGood(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dangerous good: %w", err)
	}
	idents, err := loadIdentifiers(ctx, s.q, "dangerous_goods_identifiers", []uuid.UUID{dg.ID})
	if err != nil {
		return nil, err
	}
	dg.Identifiers = idents[dg.ID]
	return dg, nil
}

func (s *pgDangerousGoods) Insert(ctx context.Context, dg *refdata.DangerousGood) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO dangerous_goods (`+dgColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (un_number) DO NOTHING`,
		dg.ID, dg.UNNumber, dg.ProperShippingName, dg.TechnicalName, int16(dg.Class),
		string(dg.PackingGroup), dg.Labels, dg.SpecialProvisions, dg.LimitedQuantity,
		dg.ExceptedQuantity, dg.Notes, dg.IsActive, dg.CreatedAt, dg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert dangerous good: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateKey
	}
	for _, ident := range dg.Identifiers {
		inserted, err := insertIdentifier(ctx, s.q, "dangerous_goods_identifiers", dg.ID, ident)
		if err == nil && !inserted {
			err = ErrDuplicateIdentifier
		}
		if err != nil {
			// Undo the record so a per-row failure leaves no half-written state.
			_, _ = s.q.Exec(ctx, `DELETE FROM dangerous_goods WHERE id = $1`, dg.ID)
			return err
		}
	}
	return nil
}

func (s *pgDangerousGoods) Update(ctx context.Context, dg *refdata.DangerousGood) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE dangerous_goods SET
			proper_shipping_name = $2, technical_name = $3, class = $4,
			packing_group = $5, labels = $6, special_provisions = $7,
			limited_quantity = $8, excepted_quantity = $9, notes = $10,
			is_active = $11, updated_at = $12
		WHERE id = $1`,
		dg.ID, dg.ProperShippingName, dg.TechnicalName, int16(dg.Class),
		string(dg.PackingGroup), dg.Labels, dg.SpecialProvisions, dg.LimitedQuantity,
		dg.ExceptedQuantity, dg.Notes, dg.IsActive, dg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update dangerous good: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgDangerousGoods) AddIdentifier(ctx context.Context, recordID uuid.UUID, ident refdata.Identifier) (refdata.Identifier, bool, error) {
	return addIdentifier(ctx, s.q, "dangerous_goods_identifiers", recordID, ident)
}

func (s *pgDangerousGoods) RemoveIdentifier(ctx context.Context, recordID, identifierID uuid.UUID) error {
	return removeIdentifier(ctx, s.q, "dangerous_goods_identifiers", recordID, identifierID)
}

func (s *pgDangerousGoods) Search(ctx context.Context, q DangerousGoodsQuery) (refdata.Page[refdata.DangerousGood], error) {
	var (
		zero  refdata.Page[refdata.DangerousGood]
		conds []string
		args  []any
	)
	if q.Text != "" {
		args = append(args, "%"+q.Text+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(proper_shipping_name ILIKE $%d OR technical_name ILIKE $%d OR un_number ILIKE $%d)", n, n, n))
	}
	if q.Class != 0 {
		args = append(args, int16(q.Class))
		conds = append(conds, fmt.Sprintf("class = $%d", len(args)))
	}
	if q.Scheme != "" || q.Code != "" {
		sub := "EXISTS (SELECT 1 FROM dangerous_goods_identifiers i WHERE i.record_id = dangerous_goods.id"
		if q.Scheme != "" {
			args = append(args, string(q.Scheme))
			sub += fmt.Sprintf(" AND i.scheme = $%d", len(args))
		}
		if q.Code != "" {
			args = append(args, refdata.NormalizeCode(q.Code))
			sub += fmt.Sprintf(" AND i.code = $%d", len(args))
		}
		conds = append(conds, sub+")")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.q.QueryRow(ctx, "SELECT count(*) FROM dangerous_goods"+where, args...).Scan(&total); err != nil {
		return zero, fmt.Errorf("count dangerous goods: %w", err)
	}

	_, _, offset := refdata.Paginate(total, q.Take, q.Page)
	take := clampTake(q.Take)
	args = append(args, take, offset)
	rows, err := s.q.Query(ctx,
		"SELECT "+dgColumns+" FROM dangerous_goods"+where+
			fmt.Sprintf(" ORDER BY un_number ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return zero, fmt.Errorf("search dangerous goods: %w", err)
	}
	defer rows.Close()

	var (
		items []refdata.DangerousGood
		ids   []uuid.UUID
	)
	for rows.Next() {
		dg, err := scanDangerousGood(rows)
		if err != nil {
			return zero, fmt.Errorf("scan dangerous good: %w", err)
		}
		items = append(items, *dg)
		ids = append(ids, dg.ID)
	}
	if err := rows.Err(); err != nil {
		return zero, fmt.Errorf("search dangerous goods: %w", err)
	}

	idents, err := loadIdentifiers(ctx, s.q, "dangerous_goods_identifiers", ids)
	if err != nil {
		return zero, err
	}
	for i := range items {
		items[i].Identifiers = idents[items[i].ID]
	}
	return refdata.NewPage(items, total, q.Take, q.Page), nil
}

func (s *pgDangerousGoods) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM dangerous_goods`).Scan(&n)
	return n, err
}

func (s *pgDangerousGoods) CountIdentifiers(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM dangerous_goods_identifiers`).Scan(&n)
	return n, err
}

// ----- locations -----

type pgLocations struct {
	q querier
}

const locColumns = `id, country, location_code, name, name_wo_diacritics,
subdivision, function, status, ref_date, coordinates, is_active, created_at, updated_at`

func scanLocation(row pgx.Row) (*refdata.Location, error) {
	var loc refdata.Location
	err := row.Scan(&loc.ID, &loc.Country, &loc.LocationCode, &loc.Name,
		&loc.NameWoDiacritics, &loc.Subdivision, &loc.Function, &loc.Status,
		&loc.Date, &loc.Coordinates, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *pgLocations) GetByLocode(ctx context.Context, country, locationCode string) (*refdata.Location, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+locColumns+` FROM locations WHERE country = $1 AND location_code = $2`,
		refdata.NormalizeCode(country), refdata.NormalizeCode(locationCode))
	loc, err := scanLocation(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	idents, err := loadIdentifiers(ctx, s.q, "location_identifiers", []uuid.UUID{loc.ID})
	if err != nil {
		return nil, err
	}
	loc.Identifiers = idents[loc.ID]
	return loc, nil
}

func (s *pgLocations) Insert(ctx context.Context, loc *refdata.Location) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO locations (`+locColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (country, location_code) DO NOTHING`,
		loc.ID, loc.Country, loc.LocationCode, loc.Name, loc.NameWoDiacritics,
		loc.Subdivision, loc.Function, loc.Status, loc.Date, loc.Coordinates,
		loc.IsActive, loc.CreatedAt, loc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateKey
	}
	for _, ident := range loc.Identifiers {
		inserted, err := insertIdentifier(ctx, s.q, "location_identifiers", loc.ID, ident)
		if err == nil && !inserted {
			err = ErrDuplicateIdentifier
		}
		if err != nil {
			_, _ = s.q.Exec(ctx, `DELETE FROM locations WHERE id = $1`, loc.ID)
			return err
		}
	}
	return nil
}

func (s *pgLocations) Update(ctx context.Context, loc *refdata.Location) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE locations SET
			name = $2, name_wo_diacritics = $3, subdivision = $4, function = $5,
			status = $6, ref_date = $7, coordinates = $8, is_active = $9,
			updated_at = $10
		WHERE id = $1`,
		loc.ID, loc.Name, loc.NameWoDiacritics, loc.Subdivision, loc.Function,
		loc.Status, loc.Date, loc.Coordinates, loc.IsActive, loc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgLocations) AddIdentifier(ctx context.Context, recordID uuid.UUID, ident refdata.Identifier) (refdata.Identifier, bool, error) {
	return addIdentifier(ctx, s.q, "location_identifiers", recordID, ident)
}

func (s *pgLocations) RemoveIdentifier(ctx context.Context, recordID, identifierID uuid.UUID) error {
	return removeIdentifier(ctx, s.q, "location_identifiers", recordID, identifierID)
}

func (s *pgLocations) Search(ctx context.Context, q LocationQuery) (refdata.Page[refdata.Location], error) {
	var (
		zero  refdata.Page[refdata.Location]
		conds []string
		args  []any
	)
	if q.Text != "" {
		args = append(args, "%"+q.Text+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR name_wo_diacritics ILIKE $%d)", n, n))
	}
	if q.Country != "" {
		args = append(args, refdata.NormalizeCode(q.Country))
		conds = append(conds, fmt.Sprintf("country = $%d", len(args)))
	}
	if q.Scheme != "" || q.Code != "" {
		sub := "EXISTS (SELECT 1 FROM location_identifiers i WHERE i.record_id = locations.id"
		if q.Scheme != "" {
			args = append(args, string(q.Scheme))
			sub += fmt.Sprintf(" AND i.scheme = $%d", len(args))
		}
		if q.Code != "" {
			args = append(args, refdata.NormalizeCode(q.Code))
			sub += fmt.Sprintf(" AND i.code = $%d", len(args))
		}
		conds = append(conds, sub+")")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.q.QueryRow(ctx, "SELECT count(*) FROM locations"+where, args...).Scan(&total); err != nil {
		return zero, fmt.Errorf("count locations: %w", err)
	}

	_, _, offset := refdata.Paginate(total, q.Take, q.Page)
	take := clampTake(q.Take)
	args = append(args, take, offset)
	rows, err := s.q.Query(ctx,
		"SELECT "+locColumns+" FROM locations"+where+
			fmt.Sprintf(" ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return zero, fmt.Errorf("search locations: %w", err)
	}
	defer rows.Close()

	var (
		items []refdata.Location
		ids   []uuid.UUID
	)
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return zero, fmt.Errorf("scan location: %w", err)
		}
		items = append(items, *loc)
		ids = append(ids, loc.ID)
	}
	if err := rows.Err(); err != nil {
		return zero, fmt.Errorf("search locations: %w", err)
	}

	idents, err := loadIdentifiers(ctx, s.q, "location_identifiers", ids)
	if err != nil {
		return zero, err
	}
	for i := range items {
		items[i].Identifiers = idents[items[i].ID]
	}
	return refdata.NewPage(items, total, q.Take, q.Page), nil
}

func (s *pgLocations) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM locations`).Scan(&n)
	return n, err
}

func (s *pgLocations) CountIdentifiers(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM location_identifiers`).Scan(&n)
	return n, err
}

// ----- shared identifier plumbing -----

// insertIdentifier writes one identifier row. Returns false without error when
// the (scheme, code) pair already exists somewhere; the caller decides whether
// that is idempotence or a conflict.
func insertIdentifier(ctx context.Context, q querier, table string, recordID uuid.UUID, ident refdata.Identifier) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO `+table+` (id, record_id, scheme, code, extra_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (scheme, code) DO NOTHING`,
		ident.ID, recordID, string(ident.Scheme), ident.Code, ident.ExtraJSON, ident.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert identifier: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func addIdentifier(ctx context.Context, q querier, table string, recordID uuid.UUID, ident refdata.Identifier) (refdata.Identifier, bool, error) {
	inserted, err := insertIdentifier(ctx, q, table, recordID, ident)
	if err != nil {
		return refdata.Identifier{}, false, err
	}
	if inserted {
		return ident, true, nil
	}
	var (
		existing refdata.Identifier
		owner    uuid.UUID
		scheme   string
	)
	err = q.QueryRow(ctx, `
		SELECT id, record_id, scheme, code, extra_json, created_at
		FROM `+table+` WHERE scheme = $1 AND code = $2`,
		string(ident.Scheme), ident.Code).
		Scan(&existing.ID, &owner, &scheme, &existing.Code, &existing.ExtraJSON, &existing.CreatedAt)
	if err != nil {
		return refdata.Identifier{}, false, fmt.Errorf("resolve identifier owner: %w", err)
	}
	if owner != recordID {
		return refdata.Identifier{}, false, ErrDuplicateIdentifier
	}
	existing.Scheme = refdata.IdentifierScheme(scheme)
	return existing, false, nil
}

func removeIdentifier(ctx context.Context, q querier, table string, recordID, identifierID uuid.UUID) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM `+table+` WHERE id = $1 AND record_id = $2`,
		identifierID, recordID)
	if err != nil {
		return fmt.Errorf("remove identifier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func loadIdentifiers(ctx context.Context, q querier, table string, recordIDs []uuid.UUID) (map[uuid.UUID][]refdata.Identifier, error) {
	out := make(map[uuid.UUID][]refdata.Identifier, len(recordIDs))
	if len(recordIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, record_id, scheme, code, extra_json, created_at
		FROM `+table+` WHERE record_id = ANY($1)
		ORDER BY created_at ASC, id ASC`, recordIDs)
	if err != nil {
		return nil, fmt.Errorf("load identifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ident    refdata.Identifier
			recordID uuid.UUID
			scheme   string
		)
		if err := rows.Scan(&ident.ID, &recordID, &scheme, &ident.Code, &ident.ExtraJSON, &ident.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		ident.Scheme = refdata.IdentifierScheme(scheme)
		out[recordID] = append(out[recordID], ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load identifiers: %w", err)
	}
	return out, nil
}

func clampTake(take int) int {
	if take <= 0 {
		return refdata.DefaultTake
	}
	if take > refdata.MaxTake {
		return refdata.MaxTake
	}
	return take
}
