// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import "github.com/gomlx/exceptions"

// SplitSize returns the nominal size of each chunk when splitting a dimension of size dimSize into numChunks
// contiguous chunks: ceil(dimSize / numChunks).
//
// The last chunks may be smaller or empty, see ChunkedDimSize.
// It panics if numChunks <= 0 or dimSize < 0.
func SplitSize(dimSize, numChunks int) int {
	if numChunks <= 0 {
		exceptions.Panicf("distributed.SplitSize(dimSize=%d, numChunks=%d): numChunks must be positive",
			dimSize, numChunks)
	}
	if dimSize < 0 {
		exceptions.Panicf("distributed.SplitSize(dimSize=%d, numChunks=%d): dimSize must be non-negative",
			dimSize, numChunks)
	}
	return (dimSize + numChunks - 1) / numChunks
}

// ChunkedDimSize returns the size of the chunk at chunkIndex, when splitting a dimension of size dimSize into
// chunks of splitSize (see SplitSize).
//
// It is never negative: chunks past the end of the dimension have size 0. The sum of the sizes of all
// chunks is exactly dimSize.
func ChunkedDimSize(dimSize, splitSize, chunkIndex int) int {
	return max(0, min(splitSize, dimSize-chunkIndex*splitSize))
}
