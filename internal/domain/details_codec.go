package domain

import (
	"encoding/json"
	"fmt"
)

type detailsEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalDetails encodes the detail variant with a kind tag so the stored
// form round-trips back into the right concrete type.
func MarshalDetails(d PaymentDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal %s details: %w", d.detailKind(), err)
	}
	return json.Marshal(detailsEnvelope{Kind: d.detailKind(), Payload: payload})
}

// UnmarshalDetails decodes a kind-tagged detail envelope.
func UnmarshalDetails(data []byte) (PaymentDetails, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var env detailsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode details envelope: %w", err)
	}
	switch env.Kind {
	case "upi":
		var d UPIDetails
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, fmt.Errorf("decode upi details: %w", err)
		}
		return d, nil
	case "bill":
		var d BillDetails
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, fmt.Errorf("decode bill details: %w", err)
		}
		return d, nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown details kind %q", env.Kind)
	}
}
