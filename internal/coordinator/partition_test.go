package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filesNamed(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("file-%03d", i)
	}
	return out
}

func TestGroupWorkerFilesNeverExceedsWorkerCount(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 7, 10, 17, 33} {
		for _, workers := range []int{1, 2, 3, 5, 8} {
			batches := GroupWorkerFiles(filesNamed(n), workers)
			assert.LessOrEqualf(t, len(batches), workers, "files=%d workers=%d", n, workers)
		}
	}
}

func TestGroupWorkerFilesPartitionsEveryFileExactlyOnce(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 7, 10, 17, 33, 101} {
		for _, workers := range []int{1, 2, 3, 5, 8} {
			input := filesNamed(n)
			batches := GroupWorkerFiles(input, workers)

			seen := map[string]int{}
			total := 0
			for _, b := range batches {
				for _, f := range b {
					seen[f]++
					total++
				}
			}
			require.Equalf(t, n, total, "files=%d workers=%d", n, workers)
			for _, f := range input {
				assert.Equalf(t, 1, seen[f], "file %s should appear exactly once (files=%d workers=%d)", f, n, workers)
			}
		}
	}
}

func TestGroupWorkerFilesIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	sorted := filesNamed(10)
	shuffled := []string{sorted[5], sorted[1], sorted[9], sorted[0], sorted[3], sorted[8], sorted[2], sorted[7], sorted[4], sorted[6]}

	a := GroupWorkerFiles(sorted, 3)
	b := GroupWorkerFiles(shuffled, 3)
	assert.Equal(t, a, b)
}

func TestGroupWorkerFilesEmptyInput(t *testing.T) {
	batches := GroupWorkerFiles(nil, 4)
	assert.Empty(t, batches)
}

func TestGroupWorkerFilesSingleWorkerGetsEverything(t *testing.T) {
	input := filesNamed(12)
	batches := GroupWorkerFiles(input, 1)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 12)
}
