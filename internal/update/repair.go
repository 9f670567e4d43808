package update

// repairDistances recomputes the parent distance of every node from pre
// to the end of the table. Subtree sizes must be correct; distances in
// front of pre must be intact. It returns the number of rewritten nodes.
func repairDistances(s Store, from int) (int, error) {
	if from < 0 || from >= s.Size() {
		return 0, nil
	}

	stack := ancestors(s, from)
	repaired := 0
	for pre := from; pre < s.Size(); pre++ {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top+s.SizeOf(top) > pre {
				break
			}
			stack = stack[:len(stack)-1]
		}

		want := pre + 1
		if len(stack) > 0 {
			want = pre - stack[len(stack)-1]
		}
		if s.Dist(pre) != want {
			if err := s.SetDist(pre, want); err != nil {
				return repaired, err
			}
			repaired++
		}
		if s.Kind(pre).HasSubtree() {
			stack = append(stack, pre)
		}
	}
	return repaired, nil
}

// ancestors returns the ancestors of pre, outermost first, found by
// descending from the first root along subtree sizes.
func ancestors(s Store, pre int) []int {
	var stack []int
	for p := 0; p < pre; {
		if p+s.SizeOf(p) > pre {
			stack = append(stack, p)
			p++
			continue
		}
		p += s.SizeOf(p)
	}
	return stack
}
