// Package repository provides data access layer implementations for the application.
package repository

import (
	"registry/internal/models"

	"gorm.io/gorm"
)

// familyTables names the three tables of one request family.
type familyTables struct {
	header   string
	items    string
	activity string
}

var (
	copyTables     = familyTables{header: "copy_requests", items: "copy_request_items", activity: "active_copies"}
	deletionTables = familyTables{header: "deletion_requests", items: "deletion_request_items", activity: "active_deletions"}
)

func tablesFor(family models.Family) familyTables {
	if family == models.FamilyDeletion {
		return deletionTables
	}
	return copyTables
}

// distinctItems returns items with duplicates removed, keeping first occurrence order.
func distinctItems(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// matchItemSet returns a scope restricting a header query of the given family
// to requests whose item set satisfies filter. The caller must have checked
// that the filter is given and non-empty.
//
// Exact mode: no stored row may fall outside the target, and every target
// member must be covered by some stored row. Contains mode drops the first
// condition.
func matchItemSet(family models.Family, filter models.ItemFilter, mode models.ItemMatchMode) func(*gorm.DB) *gorm.DB {
	t := tablesFor(family)
	target := distinctItems(filter.Items)

	return func(db *gorm.DB) *gorm.DB {
		covered := db.Session(&gorm.Session{NewDB: true}).
			Table(t.items+" AS ism").
			Select("COUNT(DISTINCT ism.item)").
			Where("ism.request_id = "+t.header+".id").
			Where("ism.item IN ?", target)
		db = db.Where("(?) = ?", covered, len(target))

		if mode == models.MatchExact {
			stray := db.Session(&gorm.Session{NewDB: true}).
				Table(t.items+" AS isx").
				Select("1").
				Where("isx.request_id = "+t.header+".id").
				Where("isx.item NOT IN ?", target)
			db = db.Where("NOT EXISTS (?)", stray)
		}
		return db
	}
}

// MatchItemSet returns the ids, ascending, of requests of family within base
// whose item set matches filter. base carries the already-applied predicates
// (owner, status, site) against the family's header table.
func MatchItemSet(base *gorm.DB, family models.Family, filter models.ItemFilter, mode models.ItemMatchMode) ([]uint, error) {
	t := tablesFor(family)
	q := base.Table(t.header)
	if filter.Given {
		if len(filter.Items) == 0 {
			return []uint{}, nil
		}
		q = q.Scopes(matchItemSet(family, filter, mode))
	}
	var ids []uint
	if err := q.Order(t.header+".id ASC").Pluck(t.header+".id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
