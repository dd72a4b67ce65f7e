package inode

// Blocks returns every sector number referenced by h's on-disk block map:
// direct data sectors, the indirect block's own sector plus the data
// sectors it points to, and the doubly-indirect block's own sector plus
// each inner indirect block's sector and the data sectors it points to.
// Holes are omitted. It does not include h.Sector() itself.
//
// This is read-only introspection with no production caller inside this
// module; it exists for an offline consistency checker to verify
// invariant I1 (every block reachable from a live inode is marked used
// in the free map) without duplicating the block-map walk.
func (t *Table) Blocks(h *Handle) ([]uint32, error) {
	entry, err := t.cache.Acquire(h.sector, false)
	if err != nil {
		return nil, err
	}
	d, err := decodeDisk(entry.Block()[:])
	t.cache.Release(entry)
	if err != nil {
		return nil, err
	}

	var out []uint32
	for _, sec := range d.Direct {
		if sec != NoSector {
			out = append(out, sec)
		}
	}

	if d.Indirect != NoSector {
		out = append(out, d.Indirect)
		ip, err := t.readIndirect(d.Indirect)
		if err != nil {
			return nil, err
		}
		for _, sec := range ip {
			if sec != NoSector {
				out = append(out, sec)
			}
		}
	}

	if d.DoublyIndirect != NoSector {
		out = append(out, d.DoublyIndirect)
		dip, err := t.readIndirect(d.DoublyIndirect)
		if err != nil {
			return nil, err
		}
		for _, isec := range dip {
			if isec == NoSector {
				continue
			}
			out = append(out, isec)
			inner, err := t.readIndirect(isec)
			if err != nil {
				return nil, err
			}
			for _, sec := range inner {
				if sec != NoSector {
					out = append(out, sec)
				}
			}
		}
	}

	return out, nil
}
