package models

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

type PageInfo struct {
	Limit       int  `json:"limit"`
	Offset      int  `json:"offset"`
	Total       int  `json:"total"`
	HasNextPage bool `json:"hasNextPage"`
}

// NormalizePage clamps a requested window to sane bounds.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// paginate returns the [offset, offset+limit) window of items.
func paginate[T any](items []T, limit, offset int) ([]T, PageInfo) {
	limit, offset = NormalizePage(limit, offset)
	info := PageInfo{Limit: limit, Offset: offset, Total: len(items)}
	if offset >= len(items) {
		return []T{}, info
	}
	end := min(offset+limit, len(items))
	info.HasNextPage = end < len(items)
	return items[offset:end], info
}
