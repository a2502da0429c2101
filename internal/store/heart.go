package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/heartrisk/apiserver/types"
)

// HeartRecordRepository handles persistence for heart records.
type HeartRecordRepository struct {
	db *sql.DB
}

func NewHeartRecordRepository(db *sql.DB) *HeartRecordRepository {
	return &HeartRecordRepository{db: db}
}

const heartRecordColumns = `id, age, sex, cp, trestbps, chol, fbs, restecg, thalach, exang, oldpeak, slope, ca, thal, target, risk_bucket, user_id, created_at`

func scanHeartRecord(row interface{ Scan(...any) error }) (types.HeartRecord, error) {
	var rec types.HeartRecord
	err := row.Scan(
		&rec.ID,
		&rec.Age,
		&rec.Sex,
		&rec.CP,
		&rec.Trestbps,
		&rec.Chol,
		&rec.FBS,
		&rec.Restecg,
		&rec.Thalach,
		&rec.Exang,
		&rec.Oldpeak,
		&rec.Slope,
		&rec.CA,
		&rec.Thal,
		&rec.Target,
		&rec.RiskBucket,
		&rec.UserID,
		&rec.CreatedAt,
	)
	return rec, err
}

// Create inserts a heart record and returns it with the assigned id.
func (r *HeartRecordRepository) Create(ctx context.Context, rec types.HeartRecord) (types.HeartRecord, error) {
	rec.CreatedAt = time.Now()

	const query = `
		INSERT INTO heart_records (age, sex, cp, trestbps, chol, fbs, restecg, thalach, exang, oldpeak, slope, ca, thal, target, risk_bucket, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		rec.Age,
		rec.Sex,
		rec.CP,
		rec.Trestbps,
		rec.Chol,
		rec.FBS,
		rec.Restecg,
		rec.Thalach,
		rec.Exang,
		rec.Oldpeak,
		rec.Slope,
		rec.CA,
		rec.Thal,
		rec.Target,
		rec.RiskBucket,
		rec.UserID,
		rec.CreatedAt,
	).Scan(&rec.ID); err != nil {
		return types.HeartRecord{}, err
	}
	return rec, nil
}

func (r *HeartRecordRepository) Get(ctx context.Context, id int) (types.HeartRecord, error) {
	const query = `
		SELECT ` + heartRecordColumns + `
		FROM heart_records
		WHERE id = $1`
	rec, err := scanHeartRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.HeartRecord{}, ErrNotFound
		}
		return types.HeartRecord{}, err
	}
	return rec, nil
}

// ListByUser returns the owner's records in insertion (id) order.
func (r *HeartRecordRepository) ListByUser(ctx context.Context, userID, offset, limit int) ([]types.HeartRecord, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const query = `
		SELECT ` + heartRecordColumns + `
		FROM heart_records
		WHERE user_id = $1
		ORDER BY id
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]types.HeartRecord, 0, limit)
	for rows.Next() {
		rec, err := scanHeartRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
