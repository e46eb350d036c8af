package services

import (
	"sort"

	"docgraph/domain/core/entities"
)

// DiffResult classifies documents between two metadata listings
type DiffResult struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// HasChanges reports whether any document was added, modified or deleted
func (d DiffResult) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Modified) > 0 || len(d.Deleted) > 0
}

// Touched returns the ids whose content must be fetched again
func (d DiffResult) Touched() []string {
	ids := make([]string, 0, len(d.Added)+len(d.Modified))
	ids = append(ids, d.Added...)
	ids = append(ids, d.Modified...)
	sort.Strings(ids)
	return ids
}

// Diff compares a previous metadata snapshot with the current listing.
// Entries flagged as deleted count as absent.
func Diff(previous, current []entities.DocumentMetadata) DiffResult {
	before := indexMetadata(previous)
	after := indexMetadata(current)

	result := DiffResult{
		Added:    []string{},
		Modified: []string{},
		Deleted:  []string{},
	}
	for id, cur := range after {
		prev, existed := before[id]
		switch {
		case !existed:
			result.Added = append(result.Added, id)
		case IsModified(prev, cur):
			result.Modified = append(result.Modified, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			result.Deleted = append(result.Deleted, id)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Modified)
	sort.Strings(result.Deleted)
	return result
}

// IsModified compares two metadata entries of the same document. Differing
// timestamps, a timestamp present on one side only, or differing titles mark
// the document as modified. With no timestamp on either side only the title
// is compared.
func IsModified(previous, current entities.DocumentMetadata) bool {
	prevTS, curTS := previous.LastModifiedAt, current.LastModifiedAt
	switch {
	case prevTS != nil && curTS != nil:
		if !prevTS.Equal(*curTS) {
			return true
		}
	case prevTS != nil || curTS != nil:
		return true
	}
	return previous.Title != current.Title
}

func indexMetadata(entries []entities.DocumentMetadata) map[string]entities.DocumentMetadata {
	index := make(map[string]entities.DocumentMetadata, len(entries))
	for _, entry := range entries {
		if entry.ID == "" || entry.Deleted {
			continue
		}
		index[entry.ID] = entry
	}
	return index
}
