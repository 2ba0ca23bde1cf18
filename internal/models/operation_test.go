package models

import "testing"

// TestTerminal verifies which states the coordinator never revisits.
func TestTerminal(t *testing.T) {
	cases := []struct {
		name string
		op   OperationRecord
		want bool
	}{
		{"pending", OperationRecord{Status: StatusPending}, false},
		{"in flight", OperationRecord{Status: StatusInFlight}, false},
		{"completed", OperationRecord{Status: StatusCompleted}, true},
		{"conflicted", OperationRecord{Status: StatusConflicted}, true},
		{"failed awaiting retry", OperationRecord{
			Status: StatusFailed, AttemptCount: 2, MaxRetries: 8, NextRetryAt: 100,
		}, false},
		{"failed out of attempts", OperationRecord{
			Status: StatusFailed, AttemptCount: 8, MaxRetries: 8, NextRetryAt: 100,
		}, true},
		{"failed non-retryable", OperationRecord{
			Status: StatusFailed, AttemptCount: 1, MaxRetries: 8, NextRetryAt: 0,
		}, true},
	}

	for _, tc := range cases {
		if got := tc.op.Terminal(); got != tc.want {
			t.Errorf("%s: expected terminal=%v, got %v", tc.name, tc.want, got)
		}
	}
}

// TestPayloadMapRoundTrip verifies payload encode/decode, including the
// empty-payload case for deletes.
func TestPayloadMapRoundTrip(t *testing.T) {
	var op OperationRecord
	if err := op.SetPayloadMap(map[string]interface{}{"tipAmount": 5.0}); err != nil {
		t.Fatalf("SetPayloadMap failed: %v", err)
	}

	m, err := op.PayloadMap()
	if err != nil {
		t.Fatalf("PayloadMap failed: %v", err)
	}
	if m["tipAmount"] != 5.0 {
		t.Errorf("Expected payload preserved, got %v", m)
	}

	empty := OperationRecord{}
	m, err = empty.PayloadMap()
	if err != nil || len(m) != 0 {
		t.Errorf("Expected empty map for no payload, got %v (%v)", m, err)
	}
}

// TestCollectionFor verifies the entity-type mapping.
func TestCollectionFor(t *testing.T) {
	if c, ok := CollectionFor("delivery"); !ok || c != CollectionDeliveries {
		t.Errorf("Expected deliveries, got %q (%v)", c, ok)
	}
	if _, ok := CollectionFor("unknown_thing"); ok {
		t.Error("Expected unknown entity type to be unmapped")
	}
}
