package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RemoteStore is the hosted data service holding the three collections.
// It offers no cross-collection atomicity apart from ReplaceAll; callers
// compensate partial multi-step failures themselves.
type RemoteStore interface {
	SelectItems(ctx context.Context) ([]Item, error)
	SelectTransactions(ctx context.Context) ([]Transaction, error)
	SelectWithdrawals(ctx context.Context) ([]WithdrawalRecord, error)

	InsertItem(ctx context.Context, it Item) error
	UpdateItem(ctx context.Context, it Item) error
	UpdateItemQuantity(ctx context.Context, id string, qty int, updatedAt time.Time) error
	DeleteItem(ctx context.Context, id string) error

	InsertTransaction(ctx context.Context, t Transaction) error
	UpdateTransaction(ctx context.Context, t Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	InsertWithdrawal(ctx context.Context, rec WithdrawalRecord) error
	DeleteWithdrawal(ctx context.Context, id string) error

	// ReplaceAll wipes and re-inserts all three collections in one remote
	// transaction. Used only by the spreadsheet import.
	ReplaceAll(ctx context.Context, items []Item, txns []Transaction, recs []WithdrawalRecord) error

	Ping(ctx context.Context) error
}

type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PGStore) SelectItems(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, COALESCE(correction_number,''), quantity, unit,
		       COALESCE(storage_location,''), COALESCE(note,''), created_at, updated_at
		FROM items
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID,
			&it.Code,
			&it.Name,
			&it.CorrectionNumber,
			&it.Quantity,
			&it.Unit,
			&it.StorageLocation,
			&it.Note,
			&it.CreatedAt,
			&it.LastUpdated,
		); err != nil {
			return nil, err
		}
		it.WithdrawalRecords = []WithdrawalRecord{}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PGStore) SelectTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, item_id, item_code, item_name, COALESCE(correction_number,''),
		       type, quantity, COALESCE(note,''), created_at
		FROM transactions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.ItemID,
			&t.ItemCode,
			&t.ItemName,
			&t.CorrectionNumber,
			&t.Type,
			&t.Quantity,
			&t.Note,
			&t.Date,
		); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PGStore) SelectWithdrawals(ctx context.Context) ([]WithdrawalRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, item_id, item_code, item_name, withdrawal_quantity,
		       total_quantity, COALESCE(note,''), COALESCE(unit,''), created_at
		FROM withdrawal_records
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []WithdrawalRecord
	for rows.Next() {
		var r WithdrawalRecord
		if err := rows.Scan(
			&r.ID,
			&r.ItemID,
			&r.Code,
			&r.Name,
			&r.WithdrawalQuantity,
			&r.Quantity,
			&r.Note,
			&r.Unit,
			&r.Date,
		); err != nil {
			return nil, err
		}
		if r.Unit == "" {
			r.Unit = DefaultUnit
		}
		r.Reason = WithdrawalReason
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *PGStore) InsertItem(ctx context.Context, it Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, code, name, correction_number, quantity, unit, storage_location, note, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, it.ID, it.Code, it.Name, it.CorrectionNumber, it.Quantity, it.Unit, it.StorageLocation, it.Note, it.CreatedAt, it.LastUpdated)
	return err
}

func (s *PGStore) UpdateItem(ctx context.Context, it Item) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items
		SET code=$2, name=$3, correction_number=$4, quantity=$5, unit=$6,
		    storage_location=$7, note=$8, updated_at=$9
		WHERE id=$1
	`, it.ID, it.Code, it.Name, it.CorrectionNumber, it.Quantity, it.Unit, it.StorageLocation, it.Note, it.LastUpdated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *PGStore) UpdateItemQuantity(ctx context.Context, id string, qty int, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET quantity=$2, updated_at=$3 WHERE id=$1
	`, id, qty, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteItem relies on the FK cascade to drop the item's transactions and
// withdrawal records remotely in the same statement.
func (s *PGStore) DeleteItem(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM items WHERE id=$1`, id)
	return err
}

func (s *PGStore) InsertTransaction(ctx context.Context, t Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, item_id, item_code, item_name, correction_number, type, quantity, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.ID, t.ItemID, t.ItemCode, t.ItemName, t.CorrectionNumber, string(t.Type), t.Quantity, t.Note, t.Date)
	return err
}

func (s *PGStore) UpdateTransaction(ctx context.Context, t Transaction) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET type=$2, quantity=$3, note=$4 WHERE id=$1
	`, t.ID, string(t.Type), t.Quantity, t.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *PGStore) DeleteTransaction(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE id=$1`, id)
	return err
}

func (s *PGStore) InsertWithdrawal(ctx context.Context, rec WithdrawalRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawal_records (id, item_id, item_code, item_name, withdrawal_quantity, total_quantity, note, unit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.ItemID, rec.Code, rec.Name, rec.WithdrawalQuantity, rec.Quantity, rec.Note, rec.Unit, rec.Date)
	return err
}

func (s *PGStore) DeleteWithdrawal(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM withdrawal_records WHERE id=$1`, id)
	return err
}

func (s *PGStore) ReplaceAll(ctx context.Context, items []Item, txns []Transaction, recs []WithdrawalRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Children first, items last; inserts in the reverse order.
	for _, q := range []string{
		`DELETE FROM withdrawal_records`,
		`DELETE FROM transactions`,
		`DELETE FROM items`,
	} {
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO items (id, code, name, correction_number, quantity, unit, storage_location, note, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, it.ID, it.Code, it.Name, it.CorrectionNumber, it.Quantity, it.Unit, it.StorageLocation, it.Note, it.CreatedAt, it.LastUpdated); err != nil {
			return fmt.Errorf("insert item %s: %w", it.Code, err)
		}
	}
	for _, t := range txns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, item_id, item_code, item_name, correction_number, type, quantity, note, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, t.ID, t.ItemID, t.ItemCode, t.ItemName, t.CorrectionNumber, string(t.Type), t.Quantity, t.Note, t.Date); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}
	for _, r := range recs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO withdrawal_records (id, item_id, item_code, item_name, withdrawal_quantity, total_quantity, note, unit, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, r.ID, r.ItemID, r.Code, r.Name, r.WithdrawalQuantity, r.Quantity, r.Note, r.Unit, r.Date); err != nil {
			return fmt.Errorf("insert withdrawal %s: %w", r.ID, err)
		}
	}

	return tx.Commit(ctx)
}
