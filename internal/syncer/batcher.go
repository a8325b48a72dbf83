package syncer

import (
	"crede/internal/reader"
)

// Item is one pending image delivery: the upload payload plus the photo row
// it came from, so the outcome can be recorded per photo.
type Item struct {
	PhotoID uint
	Image   reader.UserImage
}

// PackBatches packs items into batches whose summed encoded image size stays
// within limit bytes. Greedy, in input order: a batch is flushed when the
// next item would overflow it. An item larger than the limit by itself forms
// its own oversized batch. Concatenating the result reproduces the input
// sequence unchanged.
func PackBatches(items []Item, limit int) [][]Item {
	var (
		batches [][]Item
		current []Item
		size    int
	)
	for _, it := range items {
		n := len(it.Image.Image)
		if len(current) > 0 && size+n > limit {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, it)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
