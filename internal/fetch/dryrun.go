package fetch

import (
	"context"
	"sync"

	"hogflow/pkg/hog"
)

// DryRun records requests instead of sending them. Every request receives a 200
// response with an empty JSON object. It is used by test invocations and hogctl.
type DryRun struct {
	mu       sync.Mutex
	requests []hog.FetchRequest
}

func NewDryRun() *DryRun {
	return &DryRun{}
}

func (d *DryRun) Fetch(ctx context.Context, req hog.FetchRequest) (hog.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return hog.FetchResponse{}, err
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	return hog.FetchResponse{
		Status:  200,
		Body:    "{}",
		Headers: map[string]string{"Content-Type": "application/json"},
	}, nil
}

// Requests returns a copy of the recorded requests in order.
func (d *DryRun) Requests() []hog.FetchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]hog.FetchRequest, len(d.requests))
	copy(out, d.requests)
	return out
}
