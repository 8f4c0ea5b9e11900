package main

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/ggsecure/iris-server/pkg/detection"
)

// WhitelistStore is the persistent allow-list backing detection
// suppression. Matching is case-insensitive; entries are normalized to
// lowercase on write so lookups are plain equality.
type WhitelistStore struct {
	db *gorm.DB
}

func NewWhitelistStore(db *gorm.DB) *WhitelistStore {
	return &WhitelistStore{db: db}
}

// IsWhitelisted reports whether the identifier is allow-listed for the
// detection type. An entry with an empty secondary matches every
// secondary; an entry with a secondary only matches that exact pair.
func (w *WhitelistStore) IsWhitelisted(typ detection.Category, identifier, secondary string) (bool, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	secondary = strings.ToLower(strings.TrimSpace(secondary))
	if identifier == "" {
		return false, nil
	}

	var count int64
	query := w.db.Model(&WhitelistEntry{}).
		Where("type = ? AND identifier = ? AND is_active = ?", string(typ), identifier, true).
		Where("secondary = '' OR secondary = ?", secondary)
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

type whitelistKey struct {
	identifier string
	secondary  string
}

// Filter drops allow-listed findings and keeps the rest in order. The
// active entries for the type are loaded once and matched in memory,
// one pass over the entries and one over the findings.
func (w *WhitelistStore) Filter(typ detection.Category, findings []detection.Finding) ([]detection.Finding, error) {
	if len(findings) == 0 {
		return findings, nil
	}

	var entries []WhitelistEntry
	if err := w.db.Where("type = ? AND is_active = ?", string(typ), true).Find(&entries).Error; err != nil {
		return nil, err
	}

	wildcard := make(map[string]struct{}, len(entries))
	pinned := make(map[whitelistKey]struct{}, len(entries))
	for _, e := range entries {
		if e.Secondary == "" {
			wildcard[e.Identifier] = struct{}{}
		} else {
			pinned[whitelistKey{e.Identifier, e.Secondary}] = struct{}{}
		}
	}

	var kept []detection.Finding
	for _, f := range findings {
		identifier := strings.ToLower(strings.TrimSpace(f.Name))
		secondary := strings.ToLower(strings.TrimSpace(f.Secondary))
		if _, ok := wildcard[identifier]; ok {
			continue
		}
		if _, ok := pinned[whitelistKey{identifier, secondary}]; ok {
			continue
		}
		kept = append(kept, f)
	}
	return kept, nil
}

// Add inserts an entry, normalizing the key fields. Adding an active
// duplicate fails; adding over a deactivated row reactivates it with
// the new metadata.
func (w *WhitelistStore) Add(entry WhitelistEntry) (WhitelistEntry, error) {
	entry.Type = strings.ToLower(strings.TrimSpace(entry.Type))
	entry.Identifier = strings.ToLower(strings.TrimSpace(entry.Identifier))
	entry.Secondary = strings.ToLower(strings.TrimSpace(entry.Secondary))
	entry.IsActive = true

	var existing WhitelistEntry
	err := w.db.Where("type = ? AND identifier = ? AND secondary = ?",
		entry.Type, entry.Identifier, entry.Secondary).First(&existing).Error
	switch {
	case err == nil:
		if existing.IsActive {
			return WhitelistEntry{}, gorm.ErrDuplicatedKey
		}
		if err := w.db.Model(&existing).Updates(map[string]any{
			"is_active":    true,
			"display_name": entry.DisplayName,
			"note":         entry.Note,
			"added_by":     entry.AddedBy,
		}).Error; err != nil {
			return WhitelistEntry{}, err
		}
		existing.IsActive = true
		existing.DisplayName = entry.DisplayName
		existing.Note = entry.Note
		existing.AddedBy = entry.AddedBy
		return existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return WhitelistEntry{}, err
	}

	if err := w.db.Create(&entry).Error; err != nil {
		return WhitelistEntry{}, err
	}
	return entry, nil
}

func (w *WhitelistStore) List(typ string) ([]WhitelistEntry, error) {
	var entries []WhitelistEntry
	query := w.db.Order("type, identifier")
	if typ != "" {
		query = query.Where("type = ?", strings.ToLower(typ))
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove deactivates an entry. The row stays behind for audit.
func (w *WhitelistStore) Remove(id uint) error {
	result := w.db.Model(&WhitelistEntry{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
