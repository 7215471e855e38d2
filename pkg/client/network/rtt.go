package network

import "sort"

const rttWindowSize = 10

// rttWindow keeps the most recent keepalive round trip times in milliseconds.
type rttWindow struct {
	samples []int64
}

func (w *rttWindow) add(rtt int64) {
	w.samples = append(w.samples, rtt)
	if over := len(w.samples) - rttWindowSize; over > 0 {
		w.samples = w.samples[over:]
	}
}

// average is the mean of the window after dropping samples above twice the
// median that are also above 20ms.
func (w *rttWindow) average() float64 {
	median := medianRTT(w.samples)
	var sum float64
	var n int
	for _, rtt := range w.samples {
		if rtt > 2*median && rtt > 20 {
			continue
		}
		sum += float64(rtt)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func medianRTT(samples []int64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
