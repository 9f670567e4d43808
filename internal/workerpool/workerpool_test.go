package workerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectKeepsSubmissionOrder( // A
	t *testing.T,
) {
	t.Parallel()

	wp := NewWorkerPool(Config{WorkerCount: 4, GlobalBuffer: 2})
	defer wp.Close()

	room := NewRoom[int](wp, 50)
	for i := 0; i < 50; i++ {
		i := i
		room.NewTask(func() int {
			if i%7 == 0 {
				time.Sleep(time.Millisecond)
			}
			return i * i
		})
	}

	got := room.Collect()
	assert.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestRoomsAreIndependent( // A
	t *testing.T,
) {
	t.Parallel()

	wp := NewWorkerPool(Config{})
	defer wp.Close()

	a := NewRoom[string](wp, 1)
	b := NewRoom[string](wp, 1)
	a.NewTask(func() string { return "a" })
	b.NewTask(func() string { return "b" })
	b.NewTask(func() string { return "c" })

	assert.Equal(t, []string{"a"}, a.Collect())
	assert.Equal(t, []string{"b", "c"}, b.Collect())
	assert.Empty(t, NewRoom[int](wp, 0).Collect())
}
