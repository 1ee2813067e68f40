package selection

// RoundRobin interleaves per-archetype selections. Each round takes the next unused id from
// every bucket in bucket order, until target ids are chosen or all buckets are exhausted.
// Duplicate ids are taken once.
func RoundRobin(buckets [][]string, target int) []string {
	if target <= 0 {
		return []string{}
	}
	result := make([]string, 0, target)
	seen := make(map[string]struct{}, target)
	cursor := make([]int, len(buckets))

	for len(result) < target {
		progressed := false
		for b := range buckets {
			if len(result) >= target {
				break
			}
			for cursor[b] < len(buckets[b]) {
				id := buckets[b][cursor[b]]
				cursor[b]++
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				result = append(result, id)
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}
	return result
}

// Normalize keeps the first occurrence of each allowed id, in order, up to limit
// (limit <= 0 means no cap)
func Normalize(ids []string, allowed map[string]struct{}, limit int) []string {
	result := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if limit > 0 && len(result) >= limit {
			break
		}
		if _, ok := allowed[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// FillFromPool appends pool ids in pool order, skipping ids already selected, until the
// list holds n ids or the pool is exhausted. The returned count is how many were added.
func FillFromPool(selected, pool []string, n int) ([]string, int) {
	result := append([]string(nil), selected...)
	if len(result) >= n {
		return result, 0
	}
	seen := make(map[string]struct{}, len(result))
	for _, id := range result {
		seen[id] = struct{}{}
	}

	added := 0
	for _, id := range pool {
		if len(result) >= n {
			break
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
		added++
	}
	return result, added
}
