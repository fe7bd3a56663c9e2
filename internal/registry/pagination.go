package registry

// PageInfo is the shape a paginated tool result (e.g. list_files) reports
// back to the dispatcher.
type PageInfo struct {
	Total int
	Count int
}

// HasMorePages reports whether another page should be requested. A page
// size (Count) of zero means the source returned nothing this round and is
// treated as "no more pages" — it is never used as a divisor.
func (p PageInfo) HasMorePages(pagesFetched int) bool {
	if p.Count == 0 {
		return false
	}
	totalPages := (p.Total + p.Count - 1) / p.Count
	return pagesFetched < totalPages
}
