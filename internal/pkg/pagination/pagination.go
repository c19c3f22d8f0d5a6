package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learnhub/core/internal/pkg/response"
)

const (
	DefaultPage = 1
	DefaultSize = 10
	MaxSize     = 100
)

// Query holds parsed pagination parameters.
type Query struct {
	Page int
	Size int
}

// Page is a cacheable slice of results with its metadata.
type Page[T any] struct {
	Data       []T                 `json:"data"`
	Pagination response.Pagination `json:"pagination"`
}

// FromContext extracts and validates pagination params from the request.
// "limit" is accepted as an alias of "size".
func FromContext(c *gin.Context) Query {
	sizeParam := c.Query("size")
	if sizeParam == "" {
		sizeParam = c.DefaultQuery("limit", "10")
	}
	return Normalize(parseIntOr(c.DefaultQuery("page", "1"), DefaultPage), parseIntOr(sizeParam, DefaultSize))
}

// Normalize clamps page and size into the accepted range.
func Normalize(page, size int) Query {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Query{Page: page, Size: size}
}

// Offset returns the row offset for the query.
func (q Query) Offset() int { return (q.Page - 1) * q.Size }

// Meta builds pagination metadata for total rows.
func Meta(q Query, total int64) response.Pagination {
	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	return response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}
}

// Paginate counts the rows matched by db and returns the requested page.
// Preloads apply to the page query only.
func Paginate[T any](db *gorm.DB, q Query, preloads ...string) (*Page[T], error) {
	var total int64
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	find := db.Session(&gorm.Session{})
	for _, p := range preloads {
		find = find.Preload(p)
	}
	dest := make([]T, 0, q.Size)
	if err := find.Offset(q.Offset()).Limit(q.Size).Find(&dest).Error; err != nil {
		return nil, err
	}
	return &Page[T]{Data: dest, Pagination: Meta(q, total)}, nil
}

func parseIntOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
