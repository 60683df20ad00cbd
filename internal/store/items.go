package store

import (
	"context"
	"errors"
	"strings"

	"pkt.systems/afkcraft/schema"
)

// ItemStat is the collected count of one item for a player.
type ItemStat struct {
	IGN        schema.UserKey `json:"ign"`
	ItemName   string         `json:"item_name"`
	Rarity     string         `json:"rarity"`
	Count      int64          `json:"count"`
	ShinyCount int64          `json:"shiny_count"`
}

// ItemTotals sums a player's item statistics.
type ItemTotals struct {
	ItemsCollected int64 `json:"items_collected"`
	ShinyItems     int64 `json:"shiny_items"`
}

// RecordItem adds count and shiny to the player's tally for item.
func (s *Store) RecordItem(ctx context.Context, ign schema.UserKey, item, rarity string, count, shiny int64) error {
	item = strings.TrimSpace(item)
	if item == "" {
		return errors.New("item name is required")
	}
	if count < 0 || shiny < 0 {
		return errors.New("item counts must not be negative")
	}
	if rarity == "" {
		rarity = "common"
	}
	_, err := s.exec(ctx, `INSERT INTO item_stats (ign, item_name, rarity, count, shiny_count) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (ign, item_name) DO UPDATE SET
    rarity = excluded.rarity,
    count = item_stats.count + excluded.count,
    shiny_count = item_stats.shiny_count + excluded.shiny_count`,
		string(ign), item, rarity, count, shiny)
	return err
}

// ItemTotals returns the sums over all of the player's items.
func (s *Store) ItemTotals(ctx context.Context, ign schema.UserKey) (ItemTotals, error) {
	var t ItemTotals
	err := s.queryRow(ctx, "SELECT COALESCE(SUM(count), 0), COALESCE(SUM(shiny_count), 0) FROM item_stats WHERE ign = ?", string(ign)).
		Scan(&t.ItemsCollected, &t.ShinyItems)
	if err != nil {
		return ItemTotals{}, err
	}
	return t, nil
}

// ListItems returns the player's items ordered by name.
func (s *Store) ListItems(ctx context.Context, ign schema.UserKey) ([]ItemStat, error) {
	rows, err := s.query(ctx, "SELECT ign, item_name, rarity, count, shiny_count FROM item_stats WHERE ign = ? ORDER BY item_name", string(ign))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []ItemStat{}
	for rows.Next() {
		var (
			it  ItemStat
			key string
		)
		if err := rows.Scan(&key, &it.ItemName, &it.Rarity, &it.Count, &it.ShinyCount); err != nil {
			return nil, err
		}
		it.IGN = schema.UserKey(key)
		out = append(out, it)
	}
	return out, rows.Err()
}
