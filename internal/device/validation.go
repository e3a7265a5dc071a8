package device

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxNameLength bounds vocabulary names; they become grammar terminals.
const maxNameLength = 64

// NormalizeName trims, lower-cases and collapses inner whitespace so that
// "Living  Room" and "living room" name the same vocabulary entry.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ValidateName checks a normalised vocabulary name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidName)
		}
	}
	return nil
}

// FindConflicts returns every (device type, location) pair shared by more
// than one enabled, fully assigned device, sorted by pair. Device IDs in
// each conflict are sorted.
func FindConflicts(devices []Device) []Conflict {
	byPair := make(map[Pair][]string)
	for _, d := range devices {
		if !d.Enabled {
			continue
		}
		if p, ok := d.Pair(); ok {
			byPair[p] = append(byPair[p], d.ID)
		}
	}

	var conflicts []Conflict
	for p, ids := range byPair {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		conflicts = append(conflicts, Conflict{Pair: p, DeviceIDs: ids})
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Pair.String() < conflicts[j].Pair.String()
	})
	return conflicts
}
