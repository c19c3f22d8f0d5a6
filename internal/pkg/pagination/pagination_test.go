package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]Query{
		"/":                  {Page: 1, Size: 10},
		"/?page=3&size=20":   {Page: 3, Size: 20},
		"/?page=2&limit=5":   {Page: 2, Size: 5},
		"/?page=-1&size=0":   {Page: 1, Size: 10},
		"/?page=x&size=1000": {Page: 1, Size: MaxSize},
	}
	for url, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", url, nil)
		assert.Equal(t, want, FromContext(c), url)
	}
}

func TestMeta(t *testing.T) {
	m := Meta(Query{Page: 2, Size: 10}, 25)
	assert.Equal(t, 3, m.TotalPage)
	assert.True(t, m.HasNextPage)
	assert.Equal(t, 10, Query{Page: 2, Size: 10}.Offset())

	m = Meta(Query{Page: 1, Size: 10}, 0)
	assert.Equal(t, 0, m.TotalPage)
	assert.False(t, m.HasNextPage)
}
