package tree

import (
	"strconv"
	"strings"
)

// SafeName turns a node value into a single path element. Separators become
// "_", and empty, "." and ".." names become "_".
func SafeName(value string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, value)
	switch strings.TrimSpace(name) {
	case "", ".", "..":
		return "_"
	}
	return name
}

// UniqueName returns SafeName(value), suffixed with "~2", "~3", ... while
// the name is already in used, and marks the result as used.
func UniqueName(used map[string]bool, value string) string {
	name := SafeName(value)
	candidate := name
	for i := 2; used[candidate]; i++ {
		candidate = name + "~" + strconv.Itoa(i)
	}
	used[candidate] = true
	return candidate
}
