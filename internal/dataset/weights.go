package dataset

// BalancedClassWeights returns n / (present · count_c) for every class c that
// occurs in y, where present is the number of distinct classes in y. Classes
// absent from y get weight 1.
func BalancedClassWeights(y []int, numClasses int) []float64 {
	counts := make([]int, numClasses)
	for _, l := range y {
		if l >= 0 && l < numClasses {
			counts[l]++
		}
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	w := make([]float64, numClasses)
	for c := range w {
		if counts[c] == 0 {
			w[c] = 1
			continue
		}
		w[c] = float64(len(y)) / float64(present*counts[c])
	}
	return w
}
