package types

import (
	"errors"
	"testing"
)

func TestTripleRecordRoundTrip(t *testing.T) {
	cases := []TripleRecord{
		NewTripleRecord(EntityIDFromString("e1"), AttributeIDFromString("a1"), NullValue(), 1, HlcTimestamp{PhysicalMs: 1}),
		NewTripleRecord(EntityIDFromString("e2"), AttributeIDFromString("a2"), StringValue("hello"), 2, HlcTimestamp{PhysicalMs: 2}),
		NewTripleRecord(EntityIDFromString("e3"), AttributeIDFromString("a3"), NumberValue(123.0), 3, HlcTimestamp{PhysicalMs: 3}),
		NewTripleRecord(EntityIDFromString("e4"), AttributeIDFromString("a4"), BooleanValue(true), 4, HlcTimestamp{PhysicalMs: 4}),
	}
	for _, want := range cases {
		encoded := want.Encode()
		got, err := DecodeTripleRecord(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.EntityID != want.EntityID || got.AttributeID != want.AttributeID {
			t.Fatalf("id mismatch: got %+v want %+v", got, want)
		}
		if got.CreatedTxn != want.CreatedTxn || got.DeletedTxn != want.DeletedTxn {
			t.Fatalf("txn mismatch: got %+v want %+v", got, want)
		}
		if !got.Value.Equal(want.Value) {
			t.Fatalf("value mismatch: got %+v want %+v", got.Value, want.Value)
		}
	}
}

func TestTripleRecordEncodedSizes(t *testing.T) {
	nullRec := NewTripleRecord(EntityID{}, AttributeID{}, NullValue(), 0, HlcTimestamp{})
	if got, want := len(nullRec.Encode()), 65; got != want {
		t.Fatalf("null record size: got %d want %d", got, want)
	}
	helloRec := NewTripleRecord(EntityID{}, AttributeID{}, StringValue("hello"), 0, HlcTimestamp{})
	if got, want := len(helloRec.Encode()), 72; got != want {
		t.Fatalf("hello record size: got %d want %d", got, want)
	}
}

func TestTripleRecordVisibility(t *testing.T) {
	r := TripleRecord{CreatedTxn: 10, DeletedTxn: 50}
	for s := TxnID(10); s < 50; s++ {
		if !r.IsVisibleTo(s) {
			t.Fatalf("expected visible to snapshot %d", s)
		}
	}
	for _, s := range []TxnID{50, 51, 100} {
		if r.IsVisibleTo(s) {
			t.Fatalf("expected not visible to snapshot %d", s)
		}
	}
	for s := TxnID(0); s < 10; s++ {
		if r.IsVisibleTo(s) {
			t.Fatalf("expected not visible before creation, snapshot %d", s)
		}
	}
}

func TestTripleRecordGCEligibility(t *testing.T) {
	live := TripleRecord{CreatedTxn: 1, DeletedTxn: 0}
	if live.IsGCEligible(nil) {
		t.Fatal("live record must never be gc eligible")
	}

	deleted := TripleRecord{CreatedTxn: 1, DeletedTxn: 50}
	if !deleted.IsGCEligible(nil) {
		t.Fatal("expected eligible with no active snapshots")
	}
	over := TxnID(51)
	if !deleted.IsGCEligible(&over) {
		t.Fatal("expected eligible when min active snapshot is after deletion")
	}
	atBoundary := TxnID(50)
	if deleted.IsGCEligible(&atBoundary) {
		t.Fatal("expected not eligible when min active snapshot equals deletion txn")
	}
	under := TxnID(10)
	if deleted.IsGCEligible(&under) {
		t.Fatal("expected not eligible when min active snapshot predates deletion")
	}
}

func TestValueValidation(t *testing.T) {
	if err := StringValue("").Validate(); err == nil {
		t.Fatal("expected empty string to fail validation")
	}
	oversized := make([]byte, MaxStringLength+1)
	if err := StringValue(string(oversized)).Validate(); err == nil {
		t.Fatal("expected oversized string to fail validation")
	}
	exact := make([]byte, MaxStringLength)
	if err := StringValue(string(exact)).Validate(); err != nil {
		t.Fatalf("expected exactly-max string to succeed: %v", err)
	}
}

func TestDecodeValueUnsupportedTag(t *testing.T) {
	_, _, err := DecodeValue([]byte{0xEE})
	if err == nil {
		t.Fatal("expected error for unsupported tag")
	}
	var unsupported *UnsupportedValueTypeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedValueTypeError, got %T: %v", err, err)
	}
}

func TestHlcTimestampRoundTrip(t *testing.T) {
	h := HlcTimestamp{PhysicalMs: 1700000000123, LogicalCounter: 7, NodeID: 3}
	b := h.Bytes()
	got, err := HlcTimestampFromBytes(b[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, h)
	}
}

func TestHlcTimestampCompare(t *testing.T) {
	a := HlcTimestamp{PhysicalMs: 1, LogicalCounter: 0, NodeID: 0}
	b := HlcTimestamp{PhysicalMs: 1, LogicalCounter: 1, NodeID: 0}
	c := HlcTimestamp{PhysicalMs: 2, LogicalCounter: 0, NodeID: 0}
	if !a.Less(b) || !b.Less(c) || !a.Less(c) {
		t.Fatal("expected a < b < c")
	}
	if c.Less(a) {
		t.Fatal("expected c not less than a")
	}
}
