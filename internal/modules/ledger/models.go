package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/omerros/trackfolio/internal/domain"
)

// Sortable fields for transaction listings. SortByPrice intentionally orders
// by total transaction value (price * shares) rather than per-share price,
// so a $150 x 10 trade ranks above a $200 x 1 trade.
const (
	SortByExecutedAt = "executedAt"
	SortByCreatedAt  = "createdAt"
	SortByTicker     = "ticker"
	SortByPrice      = "price"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxUnpaginatedRows bounds the full-ledger read used by the holdings
	// recompute path. A personal ledger past this size needs pagination
	// anyway; the cap keeps memory bounded.
	maxUnpaginatedRows = 1000
)

// ListQuery describes a paginated, filtered, sorted ledger read.
type ListQuery struct {
	Ticker    string     // case-insensitive prefix match
	Operation string     // exact match: "buy" or "sell"
	StartDate *time.Time // inclusive
	EndDate   *time.Time // inclusive
	SortBy    string
	SortOrder string // "asc" or "desc"
	Page      int
	PageSize  int
}

// normalize applies defaults and clamps pagination inputs.
func (q ListQuery) normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	if q.SortBy == "" {
		q.SortBy = SortByExecutedAt
	}
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}
	return q
}

// CacheSuffix renders the query as a stable cache-key suffix so that each
// distinct filtered view caches independently.
func (q ListQuery) CacheSuffix() string {
	start, end := "", ""
	if q.StartDate != nil {
		start = q.StartDate.UTC().Format(time.RFC3339)
	}
	if q.EndDate != nil {
		end = q.EndDate.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%d",
		q.Ticker, q.Operation, start, end, q.SortBy, q.SortOrder, q.Page, q.PageSize)
}

// Pagination is the metadata block returned with every listing.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNextPage"`
	HasPrev    bool `json:"hasPrevPage"`
	NextPage   *int `json:"nextPage"`
	PrevPage   *int `json:"prevPage"`
}

func newPagination(page, pageSize, total int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}
	p := Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
	if p.HasNext {
		next := page + 1
		p.NextPage = &next
	}
	if p.HasPrev {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}

// ListResult is a page of transactions plus pagination metadata.
type ListResult struct {
	Items      []domain.Transaction `json:"data"`
	Pagination Pagination           `json:"pagination"`
}
