package energy

import "time"

type timedEnergy struct {
	timestamp int64
	energy    uint64
}

// bucketRates partitions events into tf.Count windows of tf.Width ending at
// now and returns energy per minute for every bucket that saw an event.
// Buckets are ascending and keyed by their start time in milliseconds.
func bucketRates(events []timedEnergy, tf Timeframe, now time.Time) []RatePoint {
	points := []RatePoint{}
	if tf.Count <= 0 || tf.Width <= 0 {
		return points
	}

	width := tf.Width.Milliseconds()
	end := now.UnixMilli()
	start := end - width*int64(tf.Count)

	sums := make([]uint64, tf.Count)
	seen := make([]bool, tf.Count)
	for _, ev := range events {
		if ev.timestamp < start || ev.timestamp > end {
			continue
		}
		idx := int((ev.timestamp - start) / width)
		if idx >= tf.Count {
			// an event pinned exactly to now belongs to the newest bucket
			idx = tf.Count - 1
		}
		sums[idx] += ev.energy
		seen[idx] = true
	}

	minutes := tf.Width.Minutes()
	for i := range sums {
		if !seen[i] {
			continue
		}
		points = append(points, RatePoint{
			Timestamp: start + int64(i)*width,
			Rate:      float64(sums[i]) / minutes,
		})
	}
	return points
}
