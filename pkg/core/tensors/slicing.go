// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/pkg/errors"
)

// Narrow returns a new tensor with the range `[start, start+length)` of the given axis.
// A negative axis counts from the end.
//
// The returned tensor is always an independent contiguous copy: it doesn't share storage with t,
// and it is detached (it doesn't inherit RequiresGrad or IsPinned).
func (t *Tensor) Narrow(axis, start, length int) (*Tensor, error) {
	if err := t.CheckValid(); err != nil {
		return nil, err
	}
	adjustedAxis, err := t.shape.AdjustAxis(axis)
	if err != nil {
		return nil, errors.WithMessage(err, "Tensor.Narrow()")
	}
	dim := t.shape.Dimensions[adjustedAxis]
	if start < 0 || length < 0 || start+length > dim {
		return nil, errors.Errorf("Tensor.Narrow(axis=%d, start=%d, length=%d): range out of bounds for shape %s",
			axis, start, length, t.shape)
	}

	outShape := t.shape.Clone()
	outShape.Dimensions[adjustedAxis] = length
	outer := 1
	for _, d := range t.shape.Dimensions[:adjustedAxis] {
		outer *= d
	}
	inner := 1
	for _, d := range t.shape.Dimensions[adjustedAxis+1:] {
		inner *= d
	}

	out := FromShape(outShape)
	err = t.ConstFlatData(func(srcFlat any) {
		out.MustMutableFlatData(func(dstFlat any) {
			srcV := reflect.ValueOf(srcFlat)
			dstV := reflect.ValueOf(dstFlat)
			blockSize := length * inner
			for o := range outer {
				src := (o*dim + start) * inner
				dst := o * blockSize
				reflect.Copy(dstV.Slice(dst, dst+blockSize), srcV.Slice(src, src+blockSize))
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetSlice copies the values of src into t, with src's origin placed at the given offsets (one per axis).
//
// Both tensors must have the same dtype and rank, and src must fit within t.
func (t *Tensor) SetSlice(offsets []int, src *Tensor) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	if err := src.CheckValid(); err != nil {
		return errors.WithMessage(err, "Tensor.SetSlice() source")
	}
	if t == src {
		return errors.New("Tensor.SetSlice() source and destination are the same tensor")
	}
	if src.DType() != t.DType() {
		return errors.Errorf("Tensor.SetSlice(): source dtype %s doesn't match destination dtype %s",
			src.DType(), t.DType())
	}
	rank := t.Rank()
	if src.Rank() != rank || len(offsets) != rank {
		return errors.Errorf("Tensor.SetSlice(): destination %s, source %s and offsets %v must have the same rank",
			t.shape, src.shape, offsets)
	}
	for axis, offset := range offsets {
		if offset < 0 || offset+src.shape.Dimensions[axis] > t.shape.Dimensions[axis] {
			return errors.Errorf("Tensor.SetSlice(): source %s at offsets %v doesn't fit in destination %s",
				src.shape, offsets, t.shape)
		}
	}
	if src.Size() == 0 {
		return nil
	}

	dstStrides := t.shape.Strides()
	return src.ConstFlatData(func(srcFlat any) {
		t.MustMutableFlatData(func(dstFlat any) {
			srcV := reflect.ValueOf(srcFlat)
			dstV := reflect.ValueOf(dstFlat)
			if rank == 0 {
				dstV.Index(0).Set(srcV.Index(0))
				return
			}
			// Copy one contiguous run of the last axis at a time.
			runLength := src.shape.Dimensions[rank-1]
			numRuns := src.Size() / runLength
			indices := make([]int, rank-1)
			for run := range numRuns {
				dst := offsets[rank-1]
				for axis, idx := range indices {
					dst += (idx + offsets[axis]) * dstStrides[axis]
				}
				srcPos := run * runLength
				reflect.Copy(dstV.Slice(dst, dst+runLength), srcV.Slice(srcPos, srcPos+runLength))

				// Increment the multi-dimensional index over the leading axes.
				for axis := rank - 2; axis >= 0; axis-- {
					indices[axis]++
					if indices[axis] < src.shape.Dimensions[axis] {
						break
					}
					indices[axis] = 0
				}
			}
		})
	})
}

// AssignFrom overwrites the values of t with the values of src. They must have the same shape.
//
// The flags (RequiresGrad, IsPinned) of t are preserved.
func (t *Tensor) AssignFrom(src *Tensor) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	if err := src.CheckValid(); err != nil {
		return errors.WithMessage(err, "Tensor.AssignFrom() source")
	}
	if !src.shape.Equal(t.shape) {
		return errors.Errorf("Tensor.AssignFrom(): source shape %s doesn't match destination shape %s",
			src.shape, t.shape)
	}
	if t == src {
		return nil
	}
	return src.ConstFlatData(func(srcFlat any) {
		t.MustMutableFlatData(func(dstFlat any) {
			reflect.Copy(reflect.ValueOf(dstFlat), reflect.ValueOf(srcFlat))
		})
	})
}
