package crawler

// Merge returns existing followed by every incoming record whose ID is not
// already present. Existing entries are kept unchanged and the first
// occurrence of a duplicated incoming ID wins. Neither input is modified.
func Merge(existing, incoming []Property) []Property {
	out := make([]Property, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, p := range existing {
		seen[p.ID] = struct{}{}
		out = append(out, p.Clone())
	}
	for _, p := range incoming {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p.Clone())
	}
	return out
}

// FindByID returns the record with the given ID.
func FindByID(props []Property, id string) (Property, bool) {
	for _, p := range props {
		if p.ID == id {
			return p, true
		}
	}
	return Property{}, false
}
