package domain

import "testing"

func TestNextStateAllowedEdges(t *testing.T) {
	cases := []struct {
		from    ConnectorState
		req     RequestedState
		want    ConnectorState
		allowed bool
	}{
		{StateSyncing, RequestPause, StatePaused, true},
		{StatePaused, RequestResume, StateSyncing, true},
		{StatePaused, RequestSetOffset, StateOffsetUpdate, true},
	}
	for _, c := range cases {
		got, ok := NextState(c.from, c.req)
		if ok != c.allowed || got != c.want {
			t.Errorf("NextState(%v, %v) = (%v, %v), want (%v, %v)", c.from, c.req, got, ok, c.want, c.allowed)
		}
	}
}

func TestNextStateRejectsUnknownEdges(t *testing.T) {
	cases := []struct {
		from ConnectorState
		req  RequestedState
	}{
		{StateSyncing, RequestResume},
		{StateStopped, RequestPause},
		{StatePaused, RequestStart},
	}
	for _, c := range cases {
		if _, ok := NextState(c.from, c.req); ok {
			t.Errorf("NextState(%v, %v) should be disallowed", c.from, c.req)
		}
	}
}

func TestRequestIsEmpty(t *testing.T) {
	if !(Request{}).IsEmpty() {
		t.Fatal("zero-value request should be empty")
	}
	if (Request{State: RequestPause}).IsEmpty() {
		t.Fatal("a posted request should not be empty")
	}
}
