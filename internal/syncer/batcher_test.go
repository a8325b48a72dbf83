package syncer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crede/internal/reader"
)

func item(photoID uint, size int) Item {
	return Item{
		PhotoID: photoID,
		Image:   reader.UserImage{UserID: photoID, Image: strings.Repeat("a", size)},
	}
}

func TestPackBatches_Empty(t *testing.T) {
	assert.Nil(t, PackBatches(nil, 1024))
	assert.Nil(t, PackBatches([]Item{}, 1024))
}

func TestPackBatches_AllFitInOne(t *testing.T) {
	batches := PackBatches([]Item{item(1, 100), item(2, 200), item(3, 300)}, 1024)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestPackBatches_FlushesOnOverflow(t *testing.T) {
	// 400+400 fits, the third 400 starts a new batch.
	batches := PackBatches([]Item{item(1, 400), item(2, 400), item(3, 400)}, 900)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, uint(3), batches[1][0].PhotoID)
}

func TestPackBatches_OversizedItemAlone(t *testing.T) {
	batches := PackBatches([]Item{item(1, 100), item(2, 5000), item(3, 100)}, 1024)
	require.Len(t, batches, 3)
	assert.Equal(t, uint(1), batches[0][0].PhotoID)
	assert.Equal(t, uint(2), batches[1][0].PhotoID)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, uint(3), batches[2][0].PhotoID)
}

func TestPackBatches_PreservesOrder(t *testing.T) {
	var items []Item
	for i := 1; i <= 50; i++ {
		items = append(items, item(uint(i), 300))
	}
	batches := PackBatches(items, 1000)

	var got []uint
	for _, b := range batches {
		size := 0
		for _, it := range b {
			size += len(it.Image.Image)
			got = append(got, it.PhotoID)
		}
		assert.LessOrEqual(t, size, 1000)
	}
	require.Len(t, got, 50)
	for i, id := range got {
		assert.Equal(t, uint(i+1), id)
	}
}
