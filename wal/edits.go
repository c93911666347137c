package wal

// Edit is a contiguous byte range written within one page (§3):
// [Offset, Offset+Length). Bytes holds the writer's own copy of the
// written content, not a view into the page buffer, so it survives the
// page being reused.
type Edit struct {
	Offset uint32
	Length uint32
	Bytes  []byte
}

func (e Edit) end() uint32 { return e.Offset + e.Length }

func (e Edit) overlaps(o Edit) bool {
	return e.Offset < o.end() && o.Offset < e.end()
}

// PageEdits is an ordered, gap-separated, non-overlapping list of edits
// within one page. Every successive pair satisfies
// edits[i].Offset+edits[i].Length < edits[i+1].Offset (§3).
type PageEdits struct {
	edits []Edit
}

// Edits returns the current edit list, ordered by offset. The caller must
// not mutate the returned slice.
func (pe *PageEdits) Edits() []Edit { return pe.edits }

// Len reports the number of edits.
func (pe *PageEdits) Len() int { return len(pe.edits) }

// Reset empties the edit list, e.g. when a WalPage is returned to its pool.
func (pe *PageEdits) Reset() { pe.edits = pe.edits[:0] }

// AddEdit records that data was written at offset, merging with any edit
// it touches or overlaps so the gap invariant holds afterward. data is
// copied; the caller's slice may be reused.
func (pe *PageEdits) AddEdit(offset uint32, data []byte) {
	length := uint32(len(data))
	if length == 0 {
		return
	}
	fresh := Edit{Offset: offset, Length: length, Bytes: append([]byte(nil), data...)}
	hi := fresh.end()

	start := 0
	for start < len(pe.edits) && pe.edits[start].end() < offset {
		start++
	}
	end := start
	for end < len(pe.edits) && pe.edits[end].Offset <= hi {
		end++
	}

	if start == end {
		pe.edits = append(pe.edits, Edit{})
		copy(pe.edits[start+1:], pe.edits[start:])
		pe.edits[start] = fresh
		return
	}

	merged := mergeRun(pe.edits[start:end], fresh)
	rest := make([]Edit, 0, len(pe.edits)-(end-start)+1)
	rest = append(rest, pe.edits[:start]...)
	rest = append(rest, merged)
	rest = append(rest, pe.edits[end:]...)
	pe.edits = rest
}

// mergeRun folds a run of edits the new edit touches or overlaps into one
// edit spanning their union, with the new edit's bytes taking precedence
// over the old content wherever they overlap.
func mergeRun(run []Edit, fresh Edit) Edit {
	lo, hi := fresh.Offset, fresh.end()
	for _, e := range run {
		if e.Offset < lo {
			lo = e.Offset
		}
		if e.end() > hi {
			hi = e.end()
		}
	}
	buf := make([]byte, hi-lo)
	for _, e := range run {
		copy(buf[e.Offset-lo:], e.Bytes)
	}
	copy(buf[fresh.Offset-lo:], fresh.Bytes)
	return Edit{Offset: lo, Length: hi - lo, Bytes: buf}
}

// Intersects reports whether self and other share any overlapping byte
// range (§3). Both edit lists are sorted, so this runs in linear time.
func (pe *PageEdits) Intersects(other *PageEdits) bool {
	i, j := 0, 0
	for i < len(pe.edits) && j < len(other.edits) {
		a, b := pe.edits[i], other.edits[j]
		switch {
		case a.end() <= b.Offset:
			i++
		case b.end() <= a.Offset:
			j++
		default:
			return true
		}
	}
	return false
}

// applyTo overwrites dst (a full-page buffer) with every edit in order.
func (pe *PageEdits) applyTo(dst []byte) {
	for _, e := range pe.edits {
		copy(dst[e.Offset:e.end()], e.Bytes)
	}
}
