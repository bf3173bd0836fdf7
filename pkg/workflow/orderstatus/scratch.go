package orderstatus

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// Scratchpad keys written to State.InternalData. Values survive a JSON
// round trip through the store, so numbers may come back as float64;
// the weakly typed decode below absorbs that.
const (
	keyDecidedAction    = "decided_action"
	keyWaitPromiseUntil = "wait_promise_until"
	keyPromiseDayLabel  = "promise_day_label"
	keyReferenceRetries = "reference_retries"
	keyOrderID          = "order_id"
	keyOrderStatus      = "order_status"
	keyTrackingURL      = "tracking_url"
)

// Decided actions produced by the decide node.
const (
	actionExplainUnfulfilled = "explain_unfulfilled"
	actionExplainDelivered   = "explain_delivered"
	actionWaitPromise        = "wait_promise"
)

// scratch is a typed view over the workflow's slice of InternalData.
type scratch struct {
	DecidedAction    string `mapstructure:"decided_action"`
	WaitPromiseUntil string `mapstructure:"wait_promise_until"`
	PromiseDayLabel  string `mapstructure:"promise_day_label"`
	ReferenceRetries int    `mapstructure:"reference_retries"`
	OrderID          string `mapstructure:"order_id"`
	OrderStatus      string `mapstructure:"order_status"`
	TrackingURL      string `mapstructure:"tracking_url"`
}

func scratchFrom(s conversation.State) (scratch, error) {
	var sc scratch
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &sc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return scratch{}, fmt.Errorf("orderstatus: build scratch decoder: %w", err)
	}
	if err := dec.Decode(s.InternalData); err != nil {
		return scratch{}, fmt.Errorf("orderstatus: decode scratch: %w", err)
	}
	return sc, nil
}
