package reconcile

// Reconcile merges the two listings and classifies every path that differs. Paths present
// on both sides with the same size are dropped.
//
// A one-sided file is only ever reported as deleted when a watermark exists and the file
// was last modified at or before it: without a watermark nothing says the file was ever
// synced, so it is treated as new.
func Reconcile(src, dst Listing, wm Watermark) DiffMap {
	diff := make(DiffMap, max(len(src), len(dst)))

	for p, rec := range src {
		diff[p] = &DiffEntry{Path: p, Src: &rec}
	}
	for p, rec := range dst {
		if e, ok := diff[p]; ok {
			e.Dst = &rec
			continue
		}
		diff[p] = &DiffEntry{Path: p, Dst: &rec}
	}

	for p, e := range diff {
		if sameSize(e) {
			delete(diff, p)
			continue
		}
		e.Type = classify(e, wm)
	}
	return diff
}

func sameSize(e *DiffEntry) bool {
	return e.Src != nil && e.Dst != nil && e.Src.Size == e.Dst.Size
}

func classify(e *DiffEntry, wm Watermark) ConflictType {
	switch {
	case e.Src != nil && e.Dst != nil:
		return SizeDifferent
	case e.Src != nil && wm.Valid && !e.Src.ModTime.After(wm.Time):
		return DeletedFromDest
	case e.Dst != nil && wm.Valid && !e.Dst.ModTime.After(wm.Time):
		return DeletedFromSource
	default:
		return Added
	}
}
