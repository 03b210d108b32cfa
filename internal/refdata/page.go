package refdata

// DefaultTake is the page size used when the caller does not specify one.
const DefaultTake = 50

// MaxTake caps a single page to keep result sets bounded.
const MaxTake = 500

// Page is the envelope returned by every paginated search.
type Page[T any] struct {
	Items       []T   `json:"items"`
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	Take        int   `json:"take"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

// Paginate computes the clamped pagination for a filtered result set.
//
// totalPages = ceil(totalCount / take). The requested 1-based page is clamped
// into [1, totalPages] (or to 1 when totalPages is 0) instead of returning an
// empty or erroring result, so stale page links always land on a valid page.
// offset is the number of rows to skip for the clamped page.
func Paginate(totalCount int64, take, page int) (currentPage, totalPages, offset int) {
	if take <= 0 {
		take = DefaultTake
	}
	if take > MaxTake {
		take = MaxTake
	}

	totalPages = int((totalCount + int64(take) - 1) / int64(take))

	currentPage = page
	if currentPage < 1 {
		currentPage = 1
	}
	if totalPages > 0 && currentPage > totalPages {
		currentPage = totalPages
	}
	if totalPages == 0 {
		currentPage = 1
	}

	offset = (currentPage - 1) * take
	return currentPage, totalPages, offset
}

// NewPage assembles the page envelope from the items of the clamped page.
func NewPage[T any](items []T, totalCount int64, take, page int) Page[T] {
	if take <= 0 {
		take = DefaultTake
	}
	if take > MaxTake {
		take = MaxTake
	}
	currentPage, totalPages, _ := Paginate(totalCount, take, page)
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:       items,
		TotalCount:  totalCount,
		TotalPages:  totalPages,
		CurrentPage: currentPage,
		Take:        take,
		HasNextPage: currentPage < totalPages,
		HasPrevPage: currentPage > 1,
	}
}
