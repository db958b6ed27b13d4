package service

import "github.com/samber/mo"

// DetectLayout guesses the tensor layout from a declared 4-d input shape.
// Channels-first is only assumed when dimension 1 is 3 and the last one is not.
func DetectLayout(dims []int64) Layout {
	if len(dims) == 4 && dims[1] == 3 && dims[3] != 3 {
		return NCHW
	}
	return NHWC
}

// InferInputSize reads the spatial dimensions from a declared input shape.
// Dynamic (<= 0) or missing dimensions yield None.
func InferInputSize(dims []int64, layout Layout) mo.Option[Size] {
	hi, wi := 1, 2
	if layout == NCHW {
		hi, wi = 2, 3
	}
	if len(dims) <= wi {
		return mo.None[Size]()
	}
	h, w := dims[hi], dims[wi]
	if h <= 0 || w <= 0 {
		return mo.None[Size]()
	}
	return mo.Some(Size{Height: int(h), Width: int(w)})
}

// ResolveInputSize turns a declared input shape into the concrete size used
// for every request, falling back to DefaultSize.
func ResolveInputSize(dims []int64, layout Layout) Size {
	return InferInputSize(dims, layout).OrElse(DefaultSize)
}
