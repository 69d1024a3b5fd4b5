package io

// Copy copies data from src to dst. If dst is not big enough, return an
// InsufficientBufferError.
func Copy(dst, src []byte) (n int, err error) {
	if len(dst) < len(src) {
		return 0, &InsufficientBufferError{len(src)}
	}

	return copy(dst, src), nil
}

// Split copies a contiguous src into consecutive planes. Plane i receives
// sizes[i] bytes. The total number of bytes copied is returned.
func Split(planes [][]byte, src []byte, sizes []int) (n int, err error) {
	var required int
	for _, s := range sizes {
		required += s
	}
	if len(src) < required {
		return 0, &InsufficientBufferError{required}
	}

	for i, s := range sizes {
		if i >= len(planes) {
			return n, &InsufficientBufferError{required}
		}
		m, err := Copy(planes[i], src[:s])
		if err != nil {
			return n, err
		}
		src = src[s:]
		n += m
	}
	return n, nil
}
