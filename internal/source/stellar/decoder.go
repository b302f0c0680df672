package stellar

import (
	"encoding/json"
	"fmt"

	"github.com/devblac/watch-tower/internal/model"
)

func decodeOperationFields(data []byte) (map[string]any, error) {
	var fields map[string]any
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode operation fields: %w", err)
	}
	return fields, nil
}

// ignoredOperationFields are Horizon envelope fields folded into a raw
// operation JSON object that are not decoded call/event arguments.
var ignoredOperationFields = map[string]struct{}{
	"id":               {},
	"transaction_hash": {},
	"type":             {},
	"source_account":   {},
	"function":         {},
	"paging_token":     {},
	"created_at":       {},
	"_links":           {},
}

// Decoder decodes Stellar operations. Unlike EVM, Stellar/Soroban has
// no canonical on-chain ABI in the retrieved corpus to validate
// against, so the decoder trusts Horizon's own typed operation JSON:
// every field besides the envelope metadata becomes a decoded arg.
type Decoder struct {
	watchedAddresses map[string]struct{}
}

// NewDecoder builds a Decoder restricted to the given source accounts
// / contract addresses.
func NewDecoder(addresses []string) *Decoder {
	set := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
	}
	return &Decoder{watchedAddresses: set}
}

// DecodeCall implements source.Decoder. Stellar has no separate
// call/event distinction at the transport level; every operation is
// modeled as an event via DecodeEvent, so DecodeCall always reports no
// match, letting Filter Engine transaction- and event-level conditions
// carry Stellar matching instead.
func (d *Decoder) DecodeCall(string, []byte) (*model.DecodedCall, bool, error) {
	return nil, false, nil
}

// DecodeEvent implements source.Decoder, treating log.Topics[1] (the
// operation's Horizon "function"/operation type) as the signature and
// log.Data (the operation's raw JSON) as the argument source.
func (d *Decoder) DecodeEvent(log model.Log) (*model.DecodedEvent, bool, error) {
	if len(d.watchedAddresses) > 0 {
		if _, ok := d.watchedAddresses[log.Address]; !ok {
			return nil, false, nil
		}
	}
	if len(log.Topics) < 1 {
		return nil, false, nil
	}

	opType := log.Topics[0]
	signature := opType
	if len(log.Topics) > 1 && log.Topics[1] != "" {
		signature = log.Topics[1]
	}

	fields, err := decodeOperationFields(log.Data)
	if err != nil {
		return nil, false, err
	}

	args := make([]model.Arg, 0, len(fields))
	for name, value := range fields {
		if _, skip := ignoredOperationFields[name]; skip {
			continue
		}
		args = append(args, model.Arg{Name: name, Type: "any", Value: value})
	}

	return &model.DecodedEvent{Signature: signature, Args: args}, true, nil
}
