package entity

// PoolProgress is a point-in-time view of a running pool batch.
type PoolProgress struct {
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Active     int     `json:"active"`
	Percentage float64 `json:"percentage"`
}

// PoolStats holds the aggregate counters of a worker pool.
type PoolStats struct {
	PoolSize    int     `json:"pool_size"`
	Active      int     `json:"active"`
	PeakActive  int     `json:"peak_active"`
	Processed   int     `json:"processed"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	QueueLength int     `json:"queue_length"`
}

// Progress converts the counters into a progress snapshot for a batch of total items.
func (s PoolStats) Progress(total int) PoolProgress {
	p := PoolProgress{
		Total:     total,
		Processed: s.Processed,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Active:    s.Active,
	}
	if total > 0 {
		p.Percentage = roundTo(float64(s.Processed)/float64(total)*100, 2)
	}
	return p
}
