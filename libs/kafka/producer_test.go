package kafka

import "testing"

func TestNewSyncProducerRequiresBrokers(t *testing.T) {
	if _, err := NewSyncProducer(nil, nil, nil); err == nil {
		t.Fatalf("expected error for empty broker list")
	}
}
