package connectivity

import "fmt"

// Edge is an unordered region pair stored with I < J (0-based region indices).
type Edge struct {
	I int `json:"i"`
	J int `json:"j"`
}

// EdgeList is the ordered complete-graph edge sequence shared by every stage
// of a run. Position k of every [edge x band] array refers to EdgeList[k].
type EdgeList []Edge

// EnumerateEdges returns all C(n,2) pairs i<j, ascending i then ascending j.
// For n < 2 the list is empty.
func EnumerateEdges(n int) EdgeList {
	if n < 2 {
		return EdgeList{}
	}
	out := make(EdgeList, 0, n*(n-1)/2)
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, Edge{I: i, J: j})
		}
	}
	return out
}

// Equal reports whether both lists hold the same pairs in the same order.
func (el EdgeList) Equal(other EdgeList) bool {
	if len(el) != len(other) {
		return false
	}
	for k := range el {
		if el[k] != other[k] {
			return false
		}
	}
	return true
}

// Regions returns the smallest region count the list can index.
func (el EdgeList) Regions() int {
	n := 0
	for _, e := range el {
		if e.J+1 > n {
			n = e.J + 1
		}
	}
	return n
}

// Table returns the list as [edge][2] rows with the given index base
// (0 or 1). Exports use base 1.
func (el EdgeList) Table(base int) [][2]int {
	out := make([][2]int, len(el))
	for k, e := range el {
		out[k] = [2]int{e.I + base, e.J + base}
	}
	return out
}

// CheckComplete verifies that el is exactly EnumerateEdges(n).
func (el EdgeList) CheckComplete(n int) error {
	want := n * (n - 1) / 2
	if n < 2 {
		want = 0
	}
	if len(el) != want {
		return fmt.Errorf("edge count %d, want %d for %d regions", len(el), want, n)
	}
	k := 0
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			if el[k].I != i || el[k].J != j {
				return fmt.Errorf("edge %d is (%d,%d), want (%d,%d)", k, el[k].I, el[k].J, i, j)
			}
			k++
		}
	}
	return nil
}
