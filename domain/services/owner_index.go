package services

import "docgraph/domain/core/entities"

// OwnerIndex maps content block ids to the id of the document owning them.
// An index is scoped to one graph session and passed explicitly through the
// assembly and update calls; it is not safe for concurrent mutation.
type OwnerIndex struct {
	owners map[string]string
	blocks map[string][]string
}

// NewOwnerIndex creates an empty index
func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{
		owners: make(map[string]string),
		blocks: make(map[string][]string),
	}
}

// Register records the document root and every descendant block as owned by
// docID. Entries from a previous registration of the same document are
// dropped first.
func (idx *OwnerIndex) Register(docID string, blocks []entities.ContentBlock) {
	if docID == "" {
		return
	}
	idx.Unregister(docID)

	owned := []string{docID}
	idx.owners[docID] = docID
	walkBlocks(blocks, func(block *entities.ContentBlock) {
		if block.ID == "" || block.ID == docID {
			return
		}
		// a document root never changes owner
		if idx.IsDocument(block.ID) {
			return
		}
		if previous, ok := idx.owners[block.ID]; ok && previous != docID {
			idx.forget(previous, block.ID)
		}
		idx.owners[block.ID] = docID
		owned = append(owned, block.ID)
	})
	idx.blocks[docID] = owned
}

// Unregister removes every entry owned by docID
func (idx *OwnerIndex) Unregister(docID string) {
	for _, blockID := range idx.blocks[docID] {
		if idx.owners[blockID] == docID {
			delete(idx.owners, blockID)
		}
	}
	delete(idx.blocks, docID)
}

// Seed records docID -> docID entries for the given documents without
// discarding known block entries
func (idx *OwnerIndex) Seed(docIDs ...string) {
	for _, docID := range docIDs {
		if docID == "" {
			continue
		}
		if _, ok := idx.blocks[docID]; ok {
			continue
		}
		idx.owners[docID] = docID
		idx.blocks[docID] = []string{docID}
	}
}

// Restore loads block -> owner entries, e.g. from a persisted snapshot
func (idx *OwnerIndex) Restore(entries map[string]string) {
	for blockID, docID := range entries {
		if blockID == "" || docID == "" {
			continue
		}
		if _, ok := idx.owners[blockID]; ok {
			continue
		}
		idx.owners[blockID] = docID
		idx.blocks[docID] = append(idx.blocks[docID], blockID)
	}
}

// Resolve returns the owning document id of target, or target itself when
// it is not a known block id
func (idx *OwnerIndex) Resolve(target string) string {
	if owner, ok := idx.Owner(target); ok {
		return owner
	}
	return target
}

// Owner returns the owning document of blockID
func (idx *OwnerIndex) Owner(blockID string) (string, bool) {
	owner, ok := idx.owners[blockID]
	return owner, ok
}

// IsDocument reports whether id is a registered document root
func (idx *OwnerIndex) IsDocument(id string) bool {
	_, ok := idx.blocks[id]
	return ok
}

// Len returns the number of block entries
func (idx *OwnerIndex) Len() int {
	return len(idx.owners)
}

// Entries returns a copy of the block -> owner mapping
func (idx *OwnerIndex) Entries() map[string]string {
	entries := make(map[string]string, len(idx.owners))
	for blockID, docID := range idx.owners {
		entries[blockID] = docID
	}
	return entries
}

// Clone returns an independent copy of the index
func (idx *OwnerIndex) Clone() *OwnerIndex {
	c := NewOwnerIndex()
	for blockID, docID := range idx.owners {
		c.owners[blockID] = docID
	}
	for docID, owned := range idx.blocks {
		c.blocks[docID] = append([]string(nil), owned...)
	}
	return c
}

func (idx *OwnerIndex) forget(docID, blockID string) {
	owned := idx.blocks[docID]
	for i, id := range owned {
		if id == blockID {
			idx.blocks[docID] = append(owned[:i], owned[i+1:]...)
			return
		}
	}
}
