package models

// ID sets are stored as slices so they serialize naturally; these helpers keep
// set semantics (no duplicates, order not significant).

func Contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}

// AddToSet returns the set with id added, unchanged if already present.
func AddToSet(set []string, id string) []string {
	if Contains(set, id) {
		return set
	}
	return append(set, id)
}

// RemoveFromSet returns the set without id.
func RemoveFromSet(set []string, id string) []string {
	out := set[:0]
	for _, v := range set {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
