// Package mathx holds the integer helpers used for chunk addressing.
package mathx

// Split returns q, r with v == q*size + r and 0 <= r < size. size must be > 0.
func Split(v, size int) (q, r int) {
	q, r = v/size, v%size
	if r < 0 {
		q--
		r += size
	}
	return q, r
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
