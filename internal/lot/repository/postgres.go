package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

// Verify interface compliance
var _ lot.Repository = (*PGRepository)(nil)

// EnsureSchema creates the lot tables when they do not exist yet.
func (r *PGRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

func (r *PGRepository) ProductExists(ctx context.Context, merchantID, productID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND merchant_id = $2 AND is_active = TRUE)`
	err := r.DB.GetContext(ctx, &exists, query, productID, merchantID)
	return exists, err
}

const insertLotQuery = `
    INSERT INTO lots (
        id, merchant_id, product_id, lot_number, purchase_order_id,
        initial_quantity, current_quantity, reserved_quantity, unit_cost,
        manufactured_at, expires_at, status, version, created_at, updated_at
    )
    VALUES (
        :id, :merchant_id, :product_id, :lot_number, :purchase_order_id,
        :initial_quantity, :current_quantity, :reserved_quantity, :unit_cost,
        :manufactured_at, :expires_at, :status, 1, :created_at, :updated_at
    )
    RETURNING seq, version
`

func (r *PGRepository) CreateLot(ctx context.Context, l *model.Lot, receipt *model.LedgerEntry) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query, args, err := sqlx.Named(insertLotQuery, l)
	if err != nil {
		return err
	}
	if err := tx.QueryRowxContext(ctx, tx.Rebind(query), args...).Scan(&l.Seq, &l.Version); err != nil {
		return mapPGError(err)
	}

	if receipt != nil {
		if err := insertLedger(ctx, tx, *receipt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PGRepository) GetLot(ctx context.Context, id string) (*model.Lot, error) {
	var l model.Lot
	err := r.DB.GetContext(ctx, &l, `SELECT * FROM lots WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *PGRepository) ListLotsByProduct(ctx context.Context, merchantID, productID string) ([]model.Lot, error) {
	items := []model.Lot{}
	query := `SELECT * FROM lots WHERE merchant_id = $1 AND product_id = $2 ORDER BY seq ASC`
	err := r.DB.SelectContext(ctx, &items, query, merchantID, productID)
	return items, err
}

func (r *PGRepository) FindLots(ctx context.Context, f *dto.LotFilters) ([]model.Lot, int, error) {
	items := []model.Lot{}
	var count int

	conditions := []string{}
	args := map[string]interface{}{}

	if f.MerchantID != "" {
		conditions = append(conditions, "merchant_id = :merchant_id")
		args["merchant_id"] = f.MerchantID
	}
	if f.ProductID != "" {
		conditions = append(conditions, "product_id = :product_id")
		args["product_id"] = f.ProductID
	}
	if f.Status != "" {
		conditions = append(conditions, "status = :status")
		args["status"] = string(f.Status)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	if err := r.namedCount(ctx, "SELECT count(*) FROM lots"+whereClause, args, &count); err != nil {
		return nil, 0, err
	}

	query := "SELECT * FROM lots" + whereClause + " ORDER BY seq DESC"
	if f.PageSize > 0 {
		offset := (max(f.Page, 1) - 1) * f.PageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, offset)
	}

	nstmt, err := r.DB.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer nstmt.Close()

	err = nstmt.SelectContext(ctx, &items, args)
	return items, count, err
}

func (r *PGRepository) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.DB.GetContext(ctx, &res, `SELECT * FROM reservations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &res.Lines,
		`SELECT * FROM reservation_lines WHERE reservation_id = $1 ORDER BY lot_id`, id); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *PGRepository) ListReservationsByConsumer(ctx context.Context, merchantID, consumerType, consumerID string) ([]model.Reservation, error) {
	items := []model.Reservation{}
	query := `
        SELECT * FROM reservations
        WHERE merchant_id = $1 AND consumer_type = $2 AND consumer_id = $3
        ORDER BY created_at ASC
    `
	if err := r.DB.SelectContext(ctx, &items, query, merchantID, consumerType, consumerID); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]string, len(items))
	for i, res := range items {
		ids[i] = res.ID
	}
	linesQuery, args, err := sqlx.In(`SELECT * FROM reservation_lines WHERE reservation_id IN (?) ORDER BY lot_id`, ids)
	if err != nil {
		return nil, err
	}

	var lines []model.ReservationLine
	if err := r.DB.SelectContext(ctx, &lines, r.DB.Rebind(linesQuery), args...); err != nil {
		return nil, err
	}

	byReservation := make(map[string][]model.ReservationLine, len(items))
	for _, line := range lines {
		byReservation[line.ReservationID] = append(byReservation[line.ReservationID], line)
	}
	for i := range items {
		items[i].Lines = byReservation[items[i].ID]
	}
	return items, nil
}

func (r *PGRepository) ListLedger(ctx context.Context, f *dto.LedgerFilters) ([]model.LedgerEntry, int, error) {
	items := []model.LedgerEntry{}
	var count int

	conditions := []string{}
	args := map[string]interface{}{}

	if f.MerchantID != "" {
		conditions = append(conditions, "merchant_id = :merchant_id")
		args["merchant_id"] = f.MerchantID
	}
	if f.LotID != "" {
		conditions = append(conditions, "lot_id = :lot_id")
		args["lot_id"] = f.LotID
	}
	if f.ProductID != "" {
		conditions = append(conditions, "product_id = :product_id")
		args["product_id"] = f.ProductID
	}
	if f.EntryType != "" {
		conditions = append(conditions, "entry_type = :entry_type")
		args["entry_type"] = string(f.EntryType)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	if err := r.namedCount(ctx, "SELECT count(*) FROM lot_ledger"+whereClause, args, &count); err != nil {
		return nil, 0, err
	}

	query := "SELECT * FROM lot_ledger" + whereClause + " ORDER BY seq DESC"
	if f.PageSize > 0 {
		offset := (max(f.Page, 1) - 1) * f.PageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, offset)
	}

	nstmt, err := r.DB.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer nstmt.Close()

	err = nstmt.SelectContext(ctx, &items, args)
	return items, count, err
}

func (r *PGRepository) ListLedgerByLot(ctx context.Context, lotID string) ([]model.LedgerEntry, error) {
	items := []model.LedgerEntry{}
	err := r.DB.SelectContext(ctx, &items, `SELECT * FROM lot_ledger WHERE lot_id = $1 ORDER BY seq ASC`, lotID)
	return items, err
}

func (r *PGRepository) ListStockPolicies(ctx context.Context, merchantID string) ([]model.StockPolicy, error) {
	items := []model.StockPolicy{}
	query := `SELECT * FROM stock_policies`
	args := []interface{}{}
	if merchantID != "" {
		query += ` WHERE merchant_id = $1`
		args = append(args, merchantID)
	}
	query += ` ORDER BY merchant_id, product_id`

	err := r.DB.SelectContext(ctx, &items, query, args...)
	return items, err
}

func (r *PGRepository) UpsertStockPolicy(ctx context.Context, p *model.StockPolicy) error {
	query := `
        INSERT INTO stock_policies (merchant_id, product_id, reorder_point, reorder_quantity)
        VALUES (:merchant_id, :product_id, :reorder_point, :reorder_quantity)
        ON CONFLICT (merchant_id, product_id)
        DO UPDATE SET
            reorder_point = EXCLUDED.reorder_point,
            reorder_quantity = EXCLUDED.reorder_quantity
    `
	_, err := r.DB.NamedExecContext(ctx, query, p)
	return err
}

func (r *PGRepository) RunInTx(ctx context.Context, fn func(tx lot.Tx) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PGRepository) namedCount(ctx context.Context, query string, args map[string]interface{}, count *int) error {
	rows, err := r.DB.NamedQueryContext(ctx, query, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(count)
	}
	return rows.Err()
}

type pgTx struct {
	tx *sqlx.Tx
}

// LockLots takes row locks in id order so concurrent commits touching
// overlapping lots cannot deadlock.
func (t *pgTx) LockLots(ctx context.Context, ids []string) (map[string]*model.Lot, error) {
	locked := make(map[string]*model.Lot, len(ids))
	if len(ids) == 0 {
		return locked, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM lots WHERE id IN (?) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}

	var lots []model.Lot
	if err := t.tx.SelectContext(ctx, &lots, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i := range lots {
		locked[lots[i].ID] = &lots[i]
	}
	return locked, nil
}

func (t *pgTx) LockReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := t.tx.GetContext(ctx, &res, `SELECT * FROM reservations WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := t.tx.SelectContext(ctx, &res.Lines,
		`SELECT * FROM reservation_lines WHERE reservation_id = $1 ORDER BY lot_id`, id); err != nil {
		return nil, err
	}
	return &res, nil
}

func (t *pgTx) SaveLot(ctx context.Context, l *model.Lot) error {
	query, args, err := sqlx.Named(`
        UPDATE lots SET
            current_quantity = :current_quantity,
            reserved_quantity = :reserved_quantity,
            status = :status,
            updated_at = :updated_at,
            version = version + 1
        WHERE id = :id
        RETURNING version
    `, l)
	if err != nil {
		return err
	}

	err = t.tx.QueryRowxContext(ctx, t.tx.Rebind(query), args...).Scan(&l.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: lot %s", lot.ErrNotFound, l.ID)
	}
	return mapPGError(err)
}

func (t *pgTx) CreateReservation(ctx context.Context, res *model.Reservation) error {
	query := `
        INSERT INTO reservations (
            id, merchant_id, product_id, consumer_type, consumer_id,
            status, total_quantity, created_by, created_at, updated_at
        )
        VALUES (
            :id, :merchant_id, :product_id, :consumer_type, :consumer_id,
            :status, :total_quantity, :created_by, :created_at, :updated_at
        )
    `
	if _, err := t.tx.NamedExecContext(ctx, query, res); err != nil {
		return mapPGError(err)
	}

	for _, line := range res.Lines {
		_, err := t.tx.NamedExecContext(ctx, `
            INSERT INTO reservation_lines (reservation_id, lot_id, quantity)
            VALUES (:reservation_id, :lot_id, :quantity)
        `, line)
		if err != nil {
			return mapPGError(err)
		}
	}
	return nil
}

func (t *pgTx) UpdateReservationStatus(ctx context.Context, id string, status model.ReservationStatus, at time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET status = $1, updated_at = $2 WHERE id = $3`, string(status), at, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: reservation %s", lot.ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) AppendLedger(ctx context.Context, entries ...model.LedgerEntry) error {
	for _, e := range entries {
		if err := insertLedger(ctx, t.tx, e); err != nil {
			return err
		}
	}
	return nil
}

func insertLedger(ctx context.Context, tx *sqlx.Tx, e model.LedgerEntry) error {
	query := `
        INSERT INTO lot_ledger (
            id, merchant_id, lot_id, product_id, entry_type,
            quantity_delta, on_hand_delta, status_from, status_to,
            reservation_id, note, actor, created_at
        )
        VALUES (
            :id, :merchant_id, :lot_id, :product_id, :entry_type,
            :quantity_delta, :on_hand_delta, :status_from, :status_to,
            :reservation_id, :note, :actor, :created_at
        )
    `
	_, err := tx.NamedExecContext(ctx, query, e)
	return mapPGError(err)
}

// mapPGError turns constraint violations into request errors.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", lot.ErrInvalidRequest, pgErr.Detail)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s violates %s", lot.ErrInvalidRequest, pgErr.TableName, pgErr.ConstraintName)
		}
	}
	return err
}
