package algorand

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/devblac/watch-tower/internal/model"
)

// Decoder decodes Algorand transactions into the uniform
// function/event shape the Filter Engine expects, generalizing the
// teacher's RuleMatcher (which only ever matched one rule.Match.Type
// per rule) into signature-addressed lookup across every watched
// application.
type Decoder struct {
	// appIDs restricts which application IDs this decoder will decode
	// calls for; empty means unrestricted.
	appIDs map[uint64]struct{}
}

// NewDecoder builds a Decoder for the given application IDs (as
// decimal strings, matching config.WatchedAddress.Address for
// algorand-family networks).
func NewDecoder(appAddresses []string) (*Decoder, error) {
	ids := make(map[uint64]struct{}, len(appAddresses))
	for _, a := range appAddresses {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("algorand decoder: invalid application id %q: %w", a, err)
		}
		ids[id] = struct{}{}
	}
	return &Decoder{appIDs: ids}, nil
}

// DecodeCall implements source.Decoder for application-call
// transactions. contractAddress is the application ID as a decimal
// string (model.Transaction.To, as populated by projectTransactions).
// The signature is "app_call(<app_id>)" and its args mirror the
// teacher's RuleMatcher app_call arg map.
func (d *Decoder) DecodeCall(contractAddress string, _ []byte) (*model.DecodedCall, bool, error) {
	appID, err := strconv.ParseUint(contractAddress, 10, 64)
	if err != nil {
		return nil, false, nil
	}
	if len(d.appIDs) > 0 {
		if _, ok := d.appIDs[appID]; !ok {
			return nil, false, nil
		}
	}

	return &model.DecodedCall{
		Signature: fmt.Sprintf("app_call(%d)", appID),
		Args: []model.Arg{
			{Name: "app_id", Type: "uint64", Value: appID},
		},
	}, true, nil
}

// DecodeEvent implements source.Decoder. Two event shapes are
// produced: "asset_transfer", generalized almost verbatim from the
// teacher's RuleMatcher.MatchTxn asset_transfer arg map, and
// "app_log", one per raw TEAL log() entry recorded in ApplyData (ARC-28
// style events), exposed as a single "raw" base64 arg since the
// corpus carries no ARC-4/ARC-28 ABI decoder for typed log payloads.
func (d *Decoder) DecodeEvent(log model.Log) (*model.DecodedEvent, bool, error) {
	if len(log.Topics) == 0 {
		return nil, false, nil
	}
	switch log.Topics[0] {
	case "asset_transfer":
		args, err := assetTransferArgsFromLog(log)
		if err != nil {
			return nil, false, err
		}
		return &model.DecodedEvent{Signature: "asset_transfer", Args: args}, true, nil
	case "app_log":
		return &model.DecodedEvent{
			Signature: "app_log",
			Args:      []model.Arg{{Name: "raw", Type: "string", Value: base64.StdEncoding.EncodeToString(log.Data)}},
		}, true, nil
	default:
		return nil, false, nil
	}
}

// assetTransferArgsFromLog unpacks the JSON fields buildLogs attached
// to an "asset_transfer" pseudo-log, generalized almost verbatim from
// the teacher's RuleMatcher.MatchTxn asset_transfer arg map.
func assetTransferArgsFromLog(log model.Log) ([]model.Arg, error) {
	var fields map[string]any
	if err := json.Unmarshal(log.Data, &fields); err != nil {
		return nil, fmt.Errorf("decode asset_transfer log: %w", err)
	}
	names := []string{"asset_id", "amount", "sender", "asset_sender", "receiver", "close_to", "close_amount"}
	args := make([]model.Arg, 0, len(names))
	for _, name := range names {
		args = append(args, model.Arg{Name: name, Type: "any", Value: fields[name]})
	}
	return args, nil
}
