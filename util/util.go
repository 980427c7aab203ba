package util

import (
	"log"

	"golang.org/x/exp/constraints"
)

const Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

func RoundUp[T constraints.Integer](n T, sz T) T {
	return (n + sz - 1) / sz
}

func Min[T constraints.Ordered](n T, m T) T {
	if n < m {
		return n
	}
	return m
}

func SumOverflows(x uint64, y uint64) bool {
	return x+y < x
}

func CloneByteSlice(s []byte) []byte {
	b := make([]byte, len(s))
	copy(b, s)
	return b
}
