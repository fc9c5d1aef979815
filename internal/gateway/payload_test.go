package gateway

import (
	"errors"
	"testing"
)

func TestParseEventEnvelopeShape(t *testing.T) {
	raw := []byte(`{
		"data": {
			"id": "evt_1",
			"attributes": {
				"type": "checkout_session.payment.paid",
				"data": {
					"id": "cs_abc",
					"attributes": {
						"checkout_session_id": "cs_abc",
						"payment_intent_id": "pi_123",
						"reference_number": "SCH-7-DEADBEEF",
						"status": "paid",
						"amount": 30000
					}
				}
			}
		}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != "checkout_session.payment.paid" {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.CheckoutID != "cs_abc" || ev.PaymentID != "pi_123" {
		t.Errorf("ids = %q / %q", ev.CheckoutID, ev.PaymentID)
	}
	if ev.Amount != 30000 {
		t.Errorf("amount = %d, want 30000", ev.Amount)
	}
	if ev.ReferenceNumber != "SCH-7-DEADBEEF" {
		t.Errorf("reference = %q", ev.ReferenceNumber)
	}
}

func TestParseEventTypedResourceShape(t *testing.T) {
	raw := []byte(`{
		"type": "payment.paid",
		"data": {
			"id": "pay_9",
			"attributes": {
				"checkout_id": "cs_xyz",
				"status": "paid",
				"amount": 12345
			}
		}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.CheckoutID != "cs_xyz" {
		t.Errorf("checkout id = %q, want cs_xyz", ev.CheckoutID)
	}
	// payment.* events: the resource itself is the payment
	if ev.PaymentID != "pay_9" {
		t.Errorf("payment id = %q, want pay_9", ev.PaymentID)
	}
}

func TestParseEventFlatShape(t *testing.T) {
	raw := []byte(`{
		"type": "payment.failed",
		"id": "pay_2",
		"attributes": {
			"checkout_session_id": "cs_flat",
			"status": "failed"
		}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != "payment.failed" || ev.CheckoutID != "cs_flat" {
		t.Errorf("type %q checkout %q", ev.Type, ev.CheckoutID)
	}
	if ev.Status != "failed" {
		t.Errorf("status = %q", ev.Status)
	}
}

func TestParseEventFailsClosed(t *testing.T) {
	cases := map[string][]byte{
		"not json object":      []byte(`[1,2,3]`),
		"empty object":         []byte(`{}`),
		"resource without id":  []byte(`{"type":"payment.paid","data":{"attributes":{"amount":5}}}`),
		"no attributes":        []byte(`{"type":"payment.paid","data":{"id":"pay_1"}}`),
		"envelope missing all": []byte(`{"data":{"id":"evt_1"}}`),
	}

	for name, raw := range cases {
		_, err := ParseEvent(raw)
		var upe *UnparsablePayloadError
		if !errors.As(err, &upe) {
			t.Errorf("%s: err = %v, want UnparsablePayloadError", name, err)
		}
	}
}

func TestParseEventNeverGuessesAmount(t *testing.T) {
	// a fractional amount is not valid minor units and must be dropped,
	// not rounded
	raw := []byte(`{
		"type": "payment.paid",
		"data": {
			"id": "pay_5",
			"attributes": {"checkout_session_id": "cs_1", "amount": 123.45}
		}
	}`)
	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Amount != 0 {
		t.Errorf("amount = %d, want 0 (unset)", ev.Amount)
	}
}
