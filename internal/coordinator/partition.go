package coordinator

import "sort"

// chunksOf splits a sorted slice into contiguous pieces of at most size
// elements each, the last piece possibly shorter.
func chunksOf(files []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(files); i += size {
		end := i + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, files[i:end])
	}
	return out
}

// GroupWorkerFiles deterministically partitions files into at most
// nWorkers batches (spec.md §4.4). It is a direct, documented port of
// normalize.py's group_worker_files, remainder-redistribution arithmetic
// included verbatim (SPEC_FULL.md §4, DESIGN.md Open Question (a)):
// naive fixed-size chunking can leave more than nWorkers chunks when the
// file count doesn't divide evenly; the surplus chunks are popped off the
// end and their files folded back into earlier chunks, walked in reverse,
// at an offset that shifts by the surplus count each round.
func GroupWorkerFiles(files []string, nWorkers int) [][]string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	if nWorkers < 1 {
		nWorkers = 1
	}
	chunkSize := len(sorted) / nWorkers
	if chunkSize < 1 {
		chunkSize = 1
	}
	chunkFiles := chunksOf(sorted, chunkSize)

	remainderL := len(chunkFiles) - nWorkers
	lIdx := 0
	for remainderL > 0 {
		surplus := chunkFiles[len(chunkFiles)-1]
		chunkFiles = chunkFiles[:len(chunkFiles)-1]
		idx := 0
		for i := len(surplus) - 1; i >= 0; i-- {
			file := surplus[i]
			target := len(chunkFiles) - lIdx - idx - remainderL
			chunkFiles[target] = append(chunkFiles[target], file)
			idx++
		}
		remainderL--
		lIdx = idx
	}
	return chunkFiles
}
