package backend

import "code.hybscloud.com/atomix"

// Stats are cumulative counters for one model.
type Stats struct {
	Batches        uint64 `json:"batches"`
	Requests       uint64 `json:"requests"`
	Items          uint64 `json:"items"`
	FailedItems    uint64 `json:"failed_items"`
	FailedRequests uint64 `json:"failed_requests"`
}

type counters struct {
	batches        atomix.Uint64
	requests       atomix.Uint64
	items          atomix.Uint64
	failedItems    atomix.Uint64
	failedRequests atomix.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Batches:        c.batches.Load(),
		Requests:       c.requests.Load(),
		Items:          c.items.Load(),
		FailedItems:    c.failedItems.Load(),
		FailedRequests: c.failedRequests.Load(),
	}
}
