package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, Limit: DefaultPageLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Page: 3, Limit: MaxPageLimit}, Page{Page: 3, Limit: 500}.Normalize())
	assert.Equal(t, Page{Page: MaxPage, Limit: 10}, Page{Page: math.MaxInt, Limit: 10}.Normalize())
}

func TestPageOffsetNeverOverflows(t *testing.T) {
	assert.Equal(t, 0, Page{}.Offset())
	assert.Equal(t, 40, Page{Page: 3, Limit: 20}.Offset())

	huge := Page{Page: math.MaxInt, Limit: MaxPageLimit}
	assert.Equal(t, (MaxPage-1)*MaxPageLimit, huge.Offset())
	assert.Positive(t, huge.Offset())
}

func TestPageValid(t *testing.T) {
	assert.True(t, Page{}.Valid())
	assert.True(t, Page{Page: MaxPage, Limit: 500}.Valid())
	assert.False(t, Page{Page: MaxPage + 1}.Valid())
	assert.False(t, Page{Page: -1}.Valid())
	assert.False(t, Page{Limit: -5}.Valid())
}

func TestNewPageResult(t *testing.T) {
	res := NewPageResult[int](nil, 41, Page{Page: 2, Limit: 20})
	assert.Equal(t, []int{}, res.Items)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 2, res.Page)
}
