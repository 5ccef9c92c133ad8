package versioning

// trim keeps the newest keep versions of an item and returns the dropped ones,
// oldest first. An item left with no versions is removed from the index.
// Remaining parent pointers are not rewritten.
func (ix *index) trim(itemID string, keep int) []Version {
	if keep < 0 {
		keep = 0
	}
	seq := ix.items[itemID]
	if len(seq) <= keep {
		return nil
	}
	dropped := make([]Version, 0, len(seq)-keep)
	for i := len(seq) - 1; i >= keep; i-- {
		dropped = append(dropped, seq[i])
	}
	if keep == 0 {
		delete(ix.items, itemID)
	} else {
		ix.items[itemID] = seq[:keep:keep]
	}
	return dropped
}

// removeSnapshots deletes snapshot files best-effort and returns how many
// files were actually removed.
func (s *Store) removeSnapshots(dropped []Version) int {
	removed := 0
	for _, version := range dropped {
		if err := s.files.remove(version.ID); err != nil {
			s.logger.Printf("versioning: remove snapshot %s: %v", version.ID, err)
			continue
		}
		removed++
	}
	return removed
}

// Cleanup keeps at most keepLast versions per item, deleting the snapshot
// files of everything older, and persists the index once. It returns the
// number of snapshot files deleted; a closed store deletes nothing.
func (s *Store) Cleanup(keepLast int) int {
	if keepLast < 0 {
		keepLast = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		s.logger.Printf("versioning: cleanup skipped: %v", ErrClosed)
		return 0
	}

	s.indexMu.Lock()
	itemIDs := s.index.itemIDs()
	s.indexMu.Unlock()

	var dropped []Version
	for _, itemID := range itemIDs {
		lock := s.itemLock(itemID)
		lock.Lock()
		s.indexMu.Lock()
		dropped = append(dropped, s.index.trim(itemID, keepLast)...)
		s.indexMu.Unlock()
		lock.Unlock()
	}

	cleaned := s.removeSnapshots(dropped)
	s.saveIndex()
	if cleaned > 0 {
		s.logger.Printf("versioning: cleanup removed %d snapshots (keepLast=%d)", cleaned, keepLast)
	}
	return cleaned
}
