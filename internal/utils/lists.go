package utils

// SameMembers reports whether a and b hold the same set of names,
// ignoring order and duplicates. Object names are case-sensitive.
func SameMembers(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		if !set[s] {
			return false
		}
		seen[s] = true
	}
	return len(seen) == len(set)
}

// SameOrder reports whether a and b are element-wise equal. A nil and an
// empty list are equal.
func SameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IndexOf returns the position of name in names, or -1.
func IndexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Clone copies a list, keeping nil as nil.
func Clone(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
