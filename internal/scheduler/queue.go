package scheduler

import "container/heap"

// pendingJob pairs a submitted Job with the Handle its caller observes.
type pendingJob struct {
	job    *Job
	handle *Handle
}

// jobHeap orders pending jobs by descending priority, FIFO (submission
// order) as tiebreaker, per spec §4.1 rule 2.
type jobHeap []*pendingJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	pi, pj := priorityOf(h[i].job.Kind), priorityOf(h[j].job.Kind)
	if pi != pj {
		return pi > pj
	}
	return h[i].job.seq < h[j].job.seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*pendingJob))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*jobHeap)(nil)
