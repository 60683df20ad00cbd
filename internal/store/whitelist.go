package store

import (
	"context"
	"errors"

	"pkt.systems/afkcraft/schema"
)

// WhitelistEntry approves an in-game name for AFK sessions.
type WhitelistEntry struct {
	ID       int64          `json:"id"`
	IGN      schema.UserKey `json:"ign"`
	Approved bool           `json:"approved"`
	AddedBy  string         `json:"added_by"`
}

// AddWhitelist approves ign. A duplicate yields ErrConflict.
func (s *Store) AddWhitelist(ctx context.Context, ign schema.UserKey, addedBy string) (WhitelistEntry, error) {
	e := WhitelistEntry{IGN: ign, Approved: true, AddedBy: addedBy}
	err := s.queryRow(ctx, "INSERT INTO whitelist (ign, approved, added_by) VALUES (?, ?, ?) RETURNING id",
		string(ign), true, addedBy).Scan(&e.ID)
	if err != nil {
		return WhitelistEntry{}, mapError(err)
	}
	return e, nil
}

// RemoveWhitelist deletes the entry for ign.
func (s *Store) RemoveWhitelist(ctx context.Context, ign schema.UserKey) error {
	res, err := s.exec(ctx, "DELETE FROM whitelist WHERE ign = ?", string(ign))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ListWhitelist returns all entries ordered by id.
func (s *Store) ListWhitelist(ctx context.Context) ([]WhitelistEntry, error) {
	rows, err := s.query(ctx, "SELECT id, ign, approved, added_by FROM whitelist ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []WhitelistEntry{}
	for rows.Next() {
		var (
			e   WhitelistEntry
			ign string
		)
		if err := rows.Scan(&e.ID, &ign, &e.Approved, &e.AddedBy); err != nil {
			return nil, err
		}
		e.IGN = schema.UserKey(ign)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsWhitelisted reports whether ign has an approved entry.
func (s *Store) IsWhitelisted(ctx context.Context, ign schema.UserKey) (bool, error) {
	var approved bool
	err := s.queryRow(ctx, "SELECT approved FROM whitelist WHERE ign = ?", string(ign)).Scan(&approved)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return approved, nil
}
