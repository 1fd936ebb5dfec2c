package selector

import "testing"

func TestEstimateWait(t *testing.T) {
	tests := []struct {
		name       string
		queueCount int
		stat       float64
		hasStat    bool
		wantPos    int
		wantPoint  *int
		wantMin    int
		wantMax    int
	}{
		{"trustworthy stat gives point", 3, 20, true, 4, intp(60), 0, 0},
		{"low stat widens to range", 3, 5, true, 4, nil, 15, 45},
		{"no stat gives upper bound only", 2, 0, false, 3, nil, 0, 30},
		{"empty queue", 0, 20, true, 1, intp(0), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateWait(tt.queueCount, tt.stat, tt.hasStat)
			if got.Position != tt.wantPos {
				t.Errorf("position = %d, want %d", got.Position, tt.wantPos)
			}
			if (got.Point == nil) != (tt.wantPoint == nil) {
				t.Fatalf("point nil = %v, want %v", got.Point == nil, tt.wantPoint == nil)
			}
			if got.Point != nil && *got.Point != *tt.wantPoint {
				t.Errorf("point = %d, want %d", *got.Point, *tt.wantPoint)
			}
			if got.MinMinutes != tt.wantMin || got.MaxMinutes != tt.wantMax {
				t.Errorf("range = [%d, %d], want [%d, %d]", got.MinMinutes, got.MaxMinutes, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func intp(n int) *int { return &n }

func TestWaitMessage(t *testing.T) {
	point := 60
	tests := []struct {
		name    string
		est     WaitEstimate
		withETA bool
		want    string
	}{
		{"position only without eta", WaitEstimate{Position: 4, Point: &point}, false,
			"You are number 4 in the queue."},
		{"first in queue omits eta", WaitEstimate{Position: 1, Point: &point}, true,
			"You are number 1 in the queue."},
		{"point estimate", WaitEstimate{Position: 4, Point: &point}, true,
			"You are number 4 in the queue. Expected wait: about 60 minutes."},
		{"range estimate", WaitEstimate{Position: 4, MinMinutes: 15, MaxMinutes: 45}, true,
			"You are number 4 in the queue. Expected wait: 15-45 minutes."},
		{"upper bound only", WaitEstimate{Position: 3, MaxMinutes: 30}, true,
			"You are number 3 in the queue. Expected wait: up to 30 minutes."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.est.Message(tt.withETA); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}
