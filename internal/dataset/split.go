package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// StratifiedSplit partitions the indices of y into train and test so that
// every class keeps its share of the whole in both parts. The test part
// holds ceil(testFraction·n) indices. Per-class allocations are rounded by
// largest remainder with ties broken by the seeded generator, so the result
// depends only on y, testFraction and seed.
//
// Classes too small to appear in both parts are allowed; they end up in
// whichever part the rounding gives them.
func StratifiedSplit(y []int, testFraction float64, seed uint64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction %v outside (0,1)", testFraction)
	}
	n := len(y)
	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if nTrain <= 0 || nTest <= 0 {
		return nil, nil, fmt.Errorf("%w: %d samples with test fraction %v", ErrEmptySplit, n, testFraction)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	classes, members := groupByClass(y)
	counts := make([]int, len(classes))
	for i, m := range members {
		counts[i] = len(m)
	}
	trainPer := approximateMode(counts, nTrain, rng)
	remaining := make([]int, len(counts))
	for i := range counts {
		remaining[i] = counts[i] - trainPer[i]
	}
	testPer := approximateMode(remaining, nTest, rng)

	for i, m := range members {
		perm := rng.Perm(len(m))
		for k, p := range perm {
			switch {
			case k < trainPer[i]:
				train = append(train, m[p])
			case k < trainPer[i]+testPer[i]:
				test = append(test, m[p])
			}
		}
	}
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}

// groupByClass returns the sorted distinct labels and, per label, the
// indices carrying it in ascending order.
func groupByClass(y []int) ([]int, [][]int) {
	byLabel := map[int][]int{}
	for i, l := range y {
		byLabel[l] = append(byLabel[l], i)
	}
	classes := make([]int, 0, len(byLabel))
	for l := range byLabel {
		classes = append(classes, l)
	}
	sort.Ints(classes)
	members := make([][]int, len(classes))
	for i, l := range classes {
		members[i] = byLabel[l]
	}
	return classes, members
}

// approximateMode draws `draws` items from classes of the given sizes so
// that each class gets its proportional share, floored, plus one extra for
// the classes with the largest fractional remainders. Equal remainders are
// resolved at random by rng.
func approximateMode(counts []int, draws int, rng *rand.Rand) []int {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]int, len(counts))
	if total == 0 || draws <= 0 {
		return out
	}
	rem := make([]float64, len(counts))
	assigned := 0
	for i, c := range counts {
		cont := float64(c) / float64(total) * float64(draws)
		fl := math.Floor(cont)
		out[i] = int(fl)
		rem[i] = cont - fl
		assigned += out[i]
	}
	need := draws - assigned
	if need <= 0 {
		return out
	}
	values := append([]float64(nil), rem...)
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	values = uniqueSorted(values)
	for _, v := range values {
		var inds []int
		for i, r := range rem {
			if r == v {
				inds = append(inds, i)
			}
		}
		rng.Shuffle(len(inds), func(i, j int) { inds[i], inds[j] = inds[j], inds[i] })
		take := min(len(inds), need)
		for _, i := range inds[:take] {
			out[i]++
		}
		need -= take
		if need == 0 {
			break
		}
	}
	return out
}

func uniqueSorted(v []float64) []float64 {
	out := v[:0]
	for i, x := range v {
		if i == 0 || x != v[i-1] {
			out = append(out, x)
		}
	}
	return out
}
