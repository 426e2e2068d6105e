package models

import "slices"

// PrincipalSet is the flat set of principals a budget is shared with.
// Access checks are membership tests; there are no roles.
type PrincipalSet []string

// Contains reports whether principal is a member of the set.
func (s PrincipalSet) Contains(principal string) bool {
	return slices.Contains(s, principal)
}

// Add returns the set with principals appended, skipping duplicates and empties.
func (s PrincipalSet) Add(principals ...string) PrincipalSet {
	out := slices.Clone(s)
	for _, p := range principals {
		if p == "" || out.Contains(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Remove returns the set without principal.
func (s PrincipalSet) Remove(principal string) PrincipalSet {
	return slices.DeleteFunc(slices.Clone(s), func(p string) bool { return p == principal })
}
