// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"reflect"
	"strconv"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/shapes"
)

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	t := newEmptyTensor(shape.Clone())
	goType := t.shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported", shape)
	}
	t.flat = reflect.MakeSlice(reflect.SliceOf(goType), t.Size(), t.Size()).Interface()
	return t
}

// Clone creates an independent copy of the Tensor values.
//
// The clone is detached: it doesn't inherit the RequiresGrad or IsPinned flags.
func (t *Tensor) Clone() (*Tensor, error) {
	var clone *Tensor
	err := t.ConstFlatData(func(flat any) {
		clone = newEmptyTensor(t.shape.Clone())
		flatV := reflect.ValueOf(flat)
		size := flatV.Len()
		cloneFlatV := reflect.MakeSlice(flatV.Type(), size, size)
		reflect.Copy(cloneFlatV, flatV)
		clone.flat = cloneFlatV.Interface()
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// MustConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
// It locks the Tensor until accessFn returns.
//
// It panics if the tensor is in an invalid state (if it was finalized).
func (t *Tensor) MustConstFlatData(accessFn func(flat any)) {
	must.M(t.ConstFlatData(accessFn))
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
// It locks the Tensor until accessFn returns.
//
// This provides accessFn with the actual Tensor data (not a copy), and it's owned by the Tensor: it should not be
// changed. See Tensor.MutableFlatData to access a mutable version of the flat data.
//
// See Tensor.Size for the number of elements, and shapes.Shape.Strides to calculate the offset of individual
// positions, given the indices at each axis.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) error {
	if t == nil {
		return errors.New("Tensor is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.CheckValid(); err != nil {
		return err
	}
	accessFn(t.flat)
	return nil
}

// ConstFlatData is the "generics" version of Tensor.ConstFlatData().
//
// It returns an error if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		return errors.Errorf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	return t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MustConstFlatData is the "generics" version of Tensor.MustConstFlatData().
//
// It panics if T doesn't match the tensor's dtype, or if the tensor is invalid.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	must.M(ConstFlatData(t, accessFn))
}

// MustMutableFlatData calls accessFn with a flat slice pointing to the Tensor data.
//
// It panics if the tensor is in an invalid state (if it was finalized).
func (t *Tensor) MustMutableFlatData(accessFn func(flat any)) {
	must.M(t.MutableFlatData(accessFn))
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data.
// The type of the slice corresponds to the DType of the tensor.
// The contents of the slice itself can be changed until accessFn returns.
// During this time the Tensor is locked.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) error {
	if t == nil {
		return errors.New("Tensor is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.CheckValid(); err != nil {
		return err
	}
	accessFn(t.flat)
	return nil
}

// MutableFlatData is the "generics" version of Tensor.MutableFlatData().
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		return errors.Errorf("MutableFlatData[%T] is incompatible with Tensor's dtype %s",
			v, t.shape.DType)
	}
	return t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MustMutableFlatData is the "generics" version of Tensor.MustMutableFlatData().
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	must.M(MutableFlatData(t, accessFn))
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It returns an error if the generic type doesn't match the DType of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) ([]T, error) {
	var flatCopy []T
	err := ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy, err
}

// MultiDimensionSlice lists the Go types a Tensor can be converted to/from. There are no recursions in
// generics' constraint definitions, so we list up to 5 levels of slices. The implementation works with any
// arbitrary number of levels through FromAnyValue.
type MultiDimensionSlice interface {
	bool | float32 | float64 | int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		[]bool | []float32 | []float64 | []int | []int8 | []int16 | []int32 | []int64 | []uint8 | []uint16 | []uint32 | []uint64 |
		[][]bool | [][]float32 | [][]float64 | [][]int | [][]int8 | [][]int16 | [][]int32 | [][]int64 | [][]uint8 | [][]uint16 | [][]uint32 | [][]uint64 |
		[][][]bool | [][][]float32 | [][][]float64 | [][][]int | [][][]int8 | [][][]int16 | [][][]int32 | [][][]int64 | [][][]uint8 | [][][]uint16 | [][][]uint32 | [][][]uint64 |
		[][][][]bool | [][][][]float32 | [][][][]float64 | [][][][]int | [][][][]int8 | [][][][]int16 | [][][][]int32 | [][][][]int64 | [][][][]uint8 | [][][][]uint16 | [][][][]uint32 | [][][][]uint64
}

// Value returns a multidimensional slice (except if the shape is a scalar) containing a copy of the values stored
// in the tensor.
// This is expensive and usually only used for smaller tensors in tests and to print results.
//
// It panics if the tensor is invalid.
func (t *Tensor) Value() any {
	v, err := t.ValueSafe()
	must.M(err)
	return v
}

// ValueSafe returns a multidimensional slice (except if the shape is a scalar) containing a copy of the values stored
// in the tensor.
func (t *Tensor) ValueSafe() (any, error) {
	var mdSlice any
	err := t.ConstFlatData(func(flat any) {
		if t.shape.IsScalar() {
			mdSlice = reflect.ValueOf(flat).Index(0).Interface()
			return
		}
		flatCopyV := reflect.MakeSlice(reflect.SliceOf(t.shape.DType.GoType()), t.Size(), t.Size())
		reflect.Copy(flatCopyV, reflect.ValueOf(flat))
		if t.shape.Rank() == 1 {
			mdSlice = flatCopyV.Interface()
			return
		}
		mdSlice = convertDataToSlices(flatCopyV, t.shape.Dimensions...).Interface()
	})
	if err != nil {
		return nil, err
	}
	return mdSlice, nil
}

// String converts to string, printing the values if the tensor is small.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor<nil>"
	}
	if err := t.CheckValid(); err != nil {
		return fmt.Sprintf("Tensor<invalid: %v>", err)
	}
	if t.Size() > maxStringElements {
		return fmt.Sprintf("%s{...}", t.shape)
	}
	return fmt.Sprintf("%s%v", t.shape, t.Value())
}

// maxStringElements is the largest tensor that Tensor.String prints in full.
const maxStringElements = 64

// FromScalar creates a local tensor with the given scalar.
// The `DType` is inferred from the value.
func FromScalar[T dtypes.Supported](value T) (t *Tensor) {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a local tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	t := FromShape(shapes.Make(dtype, dimensions...))
	t.MustMutableFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		valueV := reflect.ValueOf(value).Convert(flatV.Type().Elem())
		for ii := range flatV.Len() {
			flatV.Index(ii).Set(valueV)
		}
	})
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in
// `data`. The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	var dummy T
	switch any(dummy).(type) {
	case int:
		// The tensor data is int32 or int64 depending on the platform, so we copy it with a conversion.
		t.MustMutableFlatData(func(flat any) {
			flatV := reflect.ValueOf(flat)
			elemT := flatV.Type().Elem()
			for ii, v := range data {
				flatV.Index(ii).Set(reflect.ValueOf(v).Convert(elemT))
			}
		})
	default:
		MustMutableFlatData(t, func(flat []T) {
			copy(flat, data)
		})
	}
	return t
}

// FromValue returns a tensor constructed from the given multi-dimension slice (or scalar).
// If the rank of the `value` is larger than 1, the shape of all sub-slices must be the same.
//
// It panics if the shape is not regular.
//
// Notice that FromFlatDataAndDimensions is much faster if speed here is a concern.
func FromValue[S MultiDimensionSlice](value S) *Tensor {
	return FromAnyValue(value)
}

// FromAnyValue is a non-generic version of FromValue.
// If the input is a tensor already, it is simply returned.
//
// It panics with an error if the value type is unsupported or the shape is not regular.
func FromAnyValue(value any) *Tensor {
	if valueT, ok := value.(*Tensor); ok {
		return valueT
	}
	shape, err := shapeForValue(value)
	if err != nil {
		panic(errors.WithMessagef(err, "cannot create shape from %T", value))
	}
	t := FromShape(shape)
	t.MustMutableFlatData(func(flatAny any) {
		if baseType(reflect.TypeOf(value)) == reflect.TypeOf(int(0)) {
			// Go `int` type can be either an int32 or int64 depending on the architecture. For the copy
			// to work, we have to view the flat slice as an []int.
			if strconv.IntSize == 64 {
				flatRef := flatAny.([]int64)
				flatAny = unsafe.Slice((*int)(unsafe.Pointer(unsafe.SliceData(flatRef))), len(flatRef))
			} else {
				flatRef := flatAny.([]int32)
				flatAny = unsafe.Slice((*int)(unsafe.Pointer(unsafe.SliceData(flatRef))), len(flatRef))
			}
		}
		flatV := reflect.ValueOf(flatAny)
		if shape.IsScalar() {
			flatV.Index(0).Set(reflect.ValueOf(value))
			return
		}
		copySlicesRecursively(flatV, reflect.ValueOf(value), shape.Strides())
	})
	return t
}

// copySlicesRecursively copy values on a multi-dimension slice to a flat data slice
// assuming the strides for each dimension.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		reflect.Copy(data, mdSlice)
		return
	}
	numElements := mdSlice.Len()
	subStrides := strides[1:]
	for ii := 0; ii < numElements; ii++ {
		start := ii * strides[0]
		end := (ii + 1) * strides[0]
		copySlicesRecursively(data.Slice(start, end), mdSlice.Index(ii), subStrides)
	}
}

// convertDataToSlices takes data as a flat slice and creates a multidimensional slice with the given dimensions that
// points to the given data.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	strides := make([]int, len(dimensions))
	currentStride := 1
	for dim := len(dimensions) - 1; dim >= 0; dim-- {
		strides[dim] = currentStride
		currentStride *= dimensions[dim]
	}
	return createSlicesRecursively(resultT, dataV, dimensions, strides)
}

// createSlicesRecursively creates the multidimensional slices pointing to the flat data.
func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(strides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	subStrides := strides[1:]
	subDimensions := dimensions[1:]
	subResultT := resultT.Elem()
	for ii := 0; ii < numElements; ii++ {
		start := ii * strides[0]
		end := (ii + 1) * strides[0]
		subSlice := createSlicesRecursively(subResultT, data.Slice(start, end), subDimensions, subStrides)
		slice.Index(ii).Set(subSlice)
	}
	return slice
}

func shapeForValue(v any) (shapes.Shape, error) {
	var shape shapes.Shape
	err := shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return shape, err
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Slice:
		t = t.Elem()
		shape.Dimensions = append(shape.Dimensions, v.Len())
		shapePrefix := shape.Clone()
		if v.Len() == 0 {
			return errors.Errorf("value with empty slice not valid for Tensor conversion: %T -- use FromShape "+
				"to create tensors with zero-dimensions", v.Interface())
		}
		err := shapeForValueRecursive(shape, v.Index(0), t)
		if err != nil {
			return err
		}
		// Other elements must have the same shape as the first one.
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := shapePrefix.Clone()
			err = shapeForValueRecursive(&shapeTest, v.Index(ii), t)
			if err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}

	case reflect.Pointer:
		return errors.Errorf("cannot convert Pointer (%s) to a concrete value for tensors", t)

	default:
		shape.DType = dtypes.FromGoType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %s to a value concrete tensor type", t)
		}
	}
	return nil
}

// baseType returns the underlying type of a multidimensional slice. So `baseType([][]int{})` would return the
// type `int`.
func baseType(valueType reflect.Type) reflect.Type {
	for valueType.Kind() == reflect.Slice || valueType.Kind() == reflect.Array {
		valueType = valueType.Elem()
	}
	return valueType
}

// Equal checks weather t == otherTensor, comparing shapes and the bit representation of the values.
// If they are the same pointer, they are considered equal.
// If either side is invalid (nil), it panics.
//
// Slow implementation: fine for small tensors, but write something specialized for the DType if speed is desired.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	t.MustConstFlatData(func(flat0 any) {
		otherTensor.MustConstFlatData(func(flat1 any) {
			t0V := reflect.ValueOf(flat0)
			t1V := reflect.ValueOf(flat1)
			if t0V.Len() != t1V.Len() {
				equal = false
				return
			}
			for ii := range t0V.Len() {
				if !t0V.Index(ii).Equal(t1V.Index(ii)) {
					equal = false
					return
				}
			}
		})
	})
	return equal
}
