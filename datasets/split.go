package datasets

import (
	"math/rand"

	"k8s.io/klog/v2"
)

// TestCount is the number of samples assigned to the test split: n*ratio
// truncated, and at most n-1.
func TestCount(n int, ratio float64) int {
	if n <= 1 {
		return 0
	}
	return max(0, min(int(float64(n)*ratio), n-1))
}

// Split assigns records to a train and a test split.
//
// The test samples are drawn without replacement from positions 1 to n-1: the
// first record always goes to train. Train keeps the order of records, test
// follows the draw order.
func Split(records []SampleRecord, ratio float64, rng *rand.Rand) (train, test []SampleRecord) {
	n := len(records)
	numTest := TestCount(n, ratio)

	picked := make([]bool, n)
	if numTest > 0 {
		for _, p := range rng.Perm(n - 1)[:numTest] {
			picked[p+1] = true
			test = append(test, records[p+1])
		}
	}
	train = make([]SampleRecord, 0, n-numTest)
	for i, rec := range records {
		if !picked[i] {
			train = append(train, rec)
		}
	}
	klog.Infof("Selecting %d samples for test and %d for training", len(test), len(train))
	return train, test
}
