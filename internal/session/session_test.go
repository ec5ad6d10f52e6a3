package session

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEviction(t *testing.T) {
	c := New(3)
	_, ok := c.Last()
	assert.False(t, ok)
	assert.Empty(t, c.Recent(5))

	for i := 1; i <= 5; i++ {
		c.Record("q"+strconv.Itoa(i), "a"+strconv.Itoa(i), nil)
		assert.LessOrEqual(t, c.Len(), c.Cap())
	}

	recent := c.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "q5", recent[0].Question)
	assert.Equal(t, "q4", recent[1].Question)
	assert.Equal(t, "q3", recent[2].Question)

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "a5", last.Answer)
}

func TestRecentBounds(t *testing.T) {
	c := New(4)
	for i := 0; i < 2; i++ {
		c.Record(strconv.Itoa(i), "", nil)
	}
	tests := []struct {
		n    int
		want int
	}{
		{n: -1, want: 0},
		{n: 0, want: 0},
		{n: 1, want: 1},
		{n: 2, want: 2},
		{n: 100, want: 2},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.n), func(t *testing.T) {
			assert.Len(t, c.Recent(tt.n), tt.want)
		})
	}
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, 50, New(0).Cap())
}

func TestConcurrentRecord(t *testing.T) {
	c := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Record(strconv.Itoa(w), strconv.Itoa(i), nil)
				entries := c.Recent(60)
				assert.LessOrEqual(t, len(entries), 50)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
