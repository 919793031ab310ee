package rtree

// Component D: geometry primitives on cells. All return a wide coordinate.

// area is the product of (hi-lo) over every dimension.
func area(c Cell) WideCoord {
	a := WideCoord(1)
	for i := 0; i < c.dims(); i++ {
		a *= c.Hi(i) - c.Lo(i)
	}
	return a
}

// margin is the sum of (hi-lo) over every dimension.
func margin(c Cell) WideCoord {
	var m WideCoord
	for i := 0; i < c.dims(); i++ {
		m += c.Hi(i) - c.Lo(i)
	}
	return m
}

// unionInto replaces c's ranges with the elementwise min/max of c and d.
func unionInto(c *Cell, d Cell) {
	for i := 0; i < c.dims(); i++ {
		if d.Lo(i) < c.Lo(i) {
			c.Coords[2*i] = d.Lo(i)
		}
		if d.Hi(i) > c.Hi(i) {
			c.Coords[2*i+1] = d.Hi(i)
		}
	}
}

// unionOf returns a new cell covering both c and d without mutating either.
func unionOf(c, d Cell) Cell {
	u := c.clone()
	unionInto(&u, d)
	return u
}

// contains reports whether c's box contains d's box on every dimension.
func contains(c, d Cell) bool {
	for i := 0; i < c.dims(); i++ {
		if c.Lo(i) > d.Lo(i) || c.Hi(i) < d.Hi(i) {
			return false
		}
	}
	return true
}

// growth returns area(c union d) - area(c).
func growth(c, d Cell) WideCoord {
	return area(unionOf(c, d)) - area(c)
}

// intersectVolume returns the N-volume of the intersection of a and b, or
// zero if they fail to overlap on any dimension.
func intersectVolume(a, b Cell) WideCoord {
	vol := WideCoord(1)
	for i := 0; i < a.dims(); i++ {
		lo := a.Lo(i)
		if b.Lo(i) > lo {
			lo = b.Lo(i)
		}
		hi := a.Hi(i)
		if b.Hi(i) < hi {
			hi = b.Hi(i)
		}
		if hi <= lo {
			return 0
		}
		vol *= hi - lo
	}
	return vol
}

// overlap sums the N-volume of the intersection of c with each cell in set,
// skipping the entry at index skip (pass -1 to skip none).
func overlap(c Cell, set []Cell, skip int) WideCoord {
	var total WideCoord
	for i, other := range set {
		if i == skip {
			continue
		}
		total += intersectVolume(c, other)
	}
	return total
}

// overlapEnlargement is the overlap of (c union x) against set minus the
// overlap of c against set, both excluding the distinguished entry skip
// (x's own slot, so x never overlaps itself).
func overlapEnlargement(c Cell, x Cell, set []Cell, skip int) WideCoord {
	enlarged := unionOf(c, x)
	return overlap(enlarged, set, skip) - overlap(c, set, skip)
}
