package cluster

import (
	"fmt"
	"sort"
	"strings"

	"github.com/repowiki/repowiki/types"
)

// fallbackPartition splits ids deterministically when the oracle's output
// cannot be used: by the directory component at the recursion depth, or,
// when all ids share that directory, into roughly equal alphabetical
// chunks sized by the token budget. Groups are ordered ASCII-sorted by
// their key.
func fallbackPartition(comps types.ComponentMap, ids []string, depth int, budget int) []group {
	byDir := make(map[string][]string)
	for _, id := range ids {
		byDir[dirComponent(comps[id].FilePath, depth)] = append(byDir[dirComponent(comps[id].FilePath, depth)], id)
	}

	if len(byDir) > 1 {
		keys := make([]string, 0, len(byDir))
		for k := range byDir {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		groups := make([]group, 0, len(keys))
		for _, k := range keys {
			members := byDir[k]
			sort.Strings(members)
			name := k
			if name == "" {
				name = "top-level"
			}
			groups = append(groups, group{
				Name:         name,
				Description:  fmt.Sprintf("Components under %s", name),
				ComponentIDs: members,
			})
		}
		return groups
	}

	return alphabeticalChunks(comps, ids, budget)
}

// dirComponent returns the path segment at the given directory depth, or
// the deepest available segment when the path is shallower.
func dirComponent(filePath string, depth int) string {
	dirs := strings.Split(strings.Trim(filePath, "/"), "/")
	if len(dirs) > 0 {
		dirs = dirs[:len(dirs)-1] // drop the file name
	}
	if len(dirs) == 0 {
		return ""
	}
	if depth >= len(dirs) {
		depth = len(dirs) - 1
	}
	return dirs[depth]
}

// alphabeticalChunks splits ids sorted by id into ceil(total/budget)
// roughly equal chunks.
func alphabeticalChunks(comps types.ComponentMap, ids []string, budget int) []group {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	total := comps.TotalTokens(sorted)
	n := (total + budget - 1) / budget
	if n < 2 {
		n = 2
	}
	if n > len(sorted) {
		n = len(sorted)
	}

	size := (len(sorted) + n - 1) / n
	groups := make([]group, 0, n)
	for i := 0; i < len(sorted); i += size {
		end := i + size
		if end > len(sorted) {
			end = len(sorted)
		}
		idx := len(groups) + 1
		groups = append(groups, group{
			Name:         fmt.Sprintf("part-%d", idx),
			Description:  fmt.Sprintf("Alphabetical slice %d", idx),
			ComponentIDs: sorted[i:end],
		})
	}
	return groups
}
