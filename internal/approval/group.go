package approval

import "sort"

// GroupByNumber groups steps by their step number.
func GroupByNumber(steps []*Step) map[int][]*Step {
	grouped := make(map[int][]*Step)
	for _, s := range steps {
		grouped[s.Number] = append(grouped[s.Number], s)
	}
	return grouped
}

// GroupNumbers returns the step numbers of a grouping in ascending order.
func GroupNumbers(grouped map[int][]*Step) []int {
	numbers := make([]int, 0, len(grouped))
	for n := range grouped {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// GroupedWithDefault groups steps by number. An empty workflow falls back to
// the template steps (the latest released workflow of the same document),
// and a missing group 1 is filled with a single OR-gated placeholder.
func GroupedWithDefault(steps, template []*Step) map[int][]*Step {
	source := steps
	if len(source) == 0 {
		source = template
	}

	grouped := GroupByNumber(source)
	if _, ok := grouped[1]; !ok {
		grouped[1] = []*Step{{Number: 1, Type: StepTypeOr, Status: StepUnstarted}}
	}
	return grouped
}
