package versioning

import "sort"

// index holds version metadata per item, newest first. It is not safe for
// concurrent use; Store guards it with indexMu.
type index struct {
	items map[string][]Version
}

func newIndex(items map[string][]Version) *index {
	if items == nil {
		items = map[string][]Version{}
	}
	return &index{items: items}
}

func (ix *index) versions(itemID string) []Version {
	seq := ix.items[itemID]
	out := make([]Version, len(seq))
	copy(out, seq)
	return out
}

func (ix *index) newest(itemID string) (Version, bool) {
	seq := ix.items[itemID]
	if len(seq) == 0 {
		return Version{}, false
	}
	return seq[0], true
}

func (ix *index) prepend(version Version) {
	seq := ix.items[version.ItemID]
	next := make([]Version, 0, len(seq)+1)
	next = append(next, version)
	next = append(next, seq...)
	ix.items[version.ItemID] = next
}

func (ix *index) itemIDs() []string {
	ids := make([]string, 0, len(ix.items))
	for id := range ix.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// image returns a copy suitable for handing to a Manifest outside the lock.
func (ix *index) image() map[string][]Version {
	out := make(map[string][]Version, len(ix.items))
	for id, seq := range ix.items {
		cp := make([]Version, len(seq))
		copy(cp, seq)
		out[id] = cp
	}
	return out
}

// latestMillis is the highest creation time recorded in the index.
func (ix *index) latestMillis() int64 {
	var latest int64
	for _, seq := range ix.items {
		if len(seq) == 0 {
			continue
		}
		if ms := seq[0].CreatedAt.UnixMilli(); ms > latest {
			latest = ms
		}
	}
	return latest
}
