package io

import (
	"log"
	"testing"
)

func TestCopy(t *testing.T) {
	var dst []byte
	src := make([]byte, 4)

	n, err := Copy(dst, src)
	if err == nil {
		t.Fatal("expected err to be non-nill")
	}

	if n != 0 {
		t.Fatalf("expected n to be 0, but got %d", n)
	}

	e, ok := err.(*InsufficientBufferError)
	if !ok {
		t.Fatalf("expected error to be InsufficientBufferError")
	}

	if e.RequiredSize != len(src) {
		t.Fatalf("expected required size to be %d, but got %d", len(src), e.RequiredSize)
	}

	dst = make([]byte, 2*e.RequiredSize)
	n, err = Copy(dst, src)
	if err != nil {
		t.Fatalf("expected to not get an error after expanding the buffer")
	}

	if n != len(src) {
		t.Fatalf("expected n to be %d, but got %d", len(src), n)
	}

	for i := 0; i < len(src); i++ {
		if src[i] != dst[i] {
			log.Fatalf("expected value at %d to be %d, but got %d", i, src[i], dst[i])
		}
	}
}

func TestSplit(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6}
	planes := [][]byte{make([]byte, 4), make([]byte, 2)}

	n, err := Split(planes, src, []int{4, 2})
	if err != nil {
		t.Fatal(err)
	}
	if n != len(src) {
		t.Fatalf("expected n to be %d, but got %d", len(src), n)
	}
	if planes[1][0] != 5 || planes[1][1] != 6 {
		t.Fatalf("unexpected second plane %v", planes[1])
	}

	_, err = Split(planes, src[:3], []int{4, 2})
	if _, ok := err.(*InsufficientBufferError); !ok {
		t.Fatalf("expected InsufficientBufferError, got %v", err)
	}
}
