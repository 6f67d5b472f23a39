package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLeadExists is returned by CreateLead when the phone number is taken.
var ErrLeadExists = errors.New("lead already exists")

// FindLeadByPhone returns the lead with the given phone number, or nil.
func (db *DB) FindLeadByPhone(ctx context.Context, phone string) (*Lead, error) {
	var l Lead
	err := db.GetContext(ctx, &l, db.Rebind(`
		SELECT id, phone_number, display_name, notes, source, created_at
		FROM leads WHERE phone_number = ?`), phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find lead: %w", err)
	}
	return &l, nil
}

// CreateLead stores a new lead, filling in ID and CreatedAt when unset.
func (db *DB) CreateLead(ctx context.Context, l *Lead) (*Lead, error) {
	out := *l
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO leads (id, phone_number, display_name, notes, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (phone_number) DO NOTHING`),
		out.ID, out.PhoneNumber, out.DisplayName, out.Notes, out.Source, out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	} else if n == 0 {
		return nil, ErrLeadExists
	}
	return &out, nil
}

// LeadCount returns the total number of leads.
func (db *DB) LeadCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM leads`)
	return count, err
}
