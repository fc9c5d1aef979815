package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is the normalized form of one inbound provider notification.
// Amount is minor units; zero means the payload carried no amount.
type Event struct {
	Type            string
	ResourceID      string
	CheckoutID      string
	PaymentID       string
	ReferenceNumber string
	Amount          int64
	Status          string
}

// ParseEvent normalizes a raw webhook body. The provider nests payment
// data under varying key paths depending on event type, so each known
// shape is tried in priority order:
//
//  1. event envelope: data.attributes.type + data.attributes.data
//  2. typed resource: top-level type + data
//  3. flat resource:  top-level id + attributes
//
// Anything that matches none of them fails closed with
// UnparsablePayloadError; fields are never guessed or defaulted.
func ParseEvent(raw []byte) (*Event, error) {
	root, err := decodeObject(raw)
	if err != nil {
		return nil, &UnparsablePayloadError{Reason: "body is not a JSON object"}
	}

	// Shape 1: event envelope.
	if data, ok := asObject(root["data"]); ok {
		if attrs, ok := asObject(data["attributes"]); ok {
			if evType, ok := asString(attrs["type"]); ok {
				if resource, ok := asObject(attrs["data"]); ok {
					return eventFromResource(evType, resource)
				}
			}
		}
	}

	// Shape 2: typed resource.
	if evType, ok := asString(root["type"]); ok {
		if resource, ok := asObject(root["data"]); ok {
			return eventFromResource(evType, resource)
		}
		// Shape 3 with an explicit type.
		if _, hasID := asString(root["id"]); hasID {
			return eventFromResource(evType, root)
		}
	}

	return nil, &UnparsablePayloadError{Reason: "no known payload shape matched"}
}

func eventFromResource(evType string, resource map[string]json.RawMessage) (*Event, error) {
	id, ok := asString(resource["id"])
	if !ok {
		return nil, &UnparsablePayloadError{Reason: fmt.Sprintf("event %q: resource has no id", evType)}
	}
	attrs, ok := asObject(resource["attributes"])
	if !ok {
		return nil, &UnparsablePayloadError{Reason: fmt.Sprintf("event %q: resource has no attributes", evType)}
	}

	ev := &Event{Type: evType, ResourceID: id}

	// Checkout identifier moves around per event type.
	for _, key := range []string{"checkout_session_id", "checkout_id"} {
		if v, ok := asString(attrs[key]); ok {
			ev.CheckoutID = v
			break
		}
	}
	for _, key := range []string{"payment_intent_id", "payment_id"} {
		if v, ok := asString(attrs[key]); ok {
			ev.PaymentID = v
			break
		}
	}
	if ev.PaymentID == "" && len(id) > 0 && evType != "" {
		// For payment.* events the resource itself is the payment.
		if hasPrefix(evType, "payment.") {
			ev.PaymentID = id
		}
	}
	if v, ok := asString(attrs["reference_number"]); ok {
		ev.ReferenceNumber = v
	}
	if v, ok := asString(attrs["status"]); ok {
		ev.Status = v
	}
	if n, ok := asInt64(attrs["amount"]); ok {
		ev.Amount = n
	}

	return ev, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// decodeObject decodes with json.Number so minor-unit amounts never pass
// through a float64.
func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if raw == nil {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func asString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

func asInt64(raw json.RawMessage) (int64, bool) {
	if raw == nil {
		return 0, false
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}
