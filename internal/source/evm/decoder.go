package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/watch-tower/internal/abiutil"
	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
)

// contractABI is the synthesized method/event table for one watched
// address, built directly from the monitor's inline ContractSpec
// (spec §3: functions/events are declared as typed params in JSON, no
// external ABI file is required).
type contractABI struct {
	methods map[[4]byte]abi.Method
	events  map[common.Hash]abi.Event
}

// Decoder decodes EVM calls and logs for a fixed set of watched
// addresses, generalizing the teacher's per-rule RuleMatcher (which
// only ever decoded logs) to also decode function calls against
// tx.Input.
type Decoder struct {
	contracts map[common.Address]contractABI
}

// NewDecoder builds a Decoder from the monitor addresses' contract
// specs. Addresses with no ContractSpec are still filterable by the
// Filter Engine on address/status alone; DecodeCall/DecodeEvent simply
// report ok=false for them.
func NewDecoder(addresses []config.WatchedAddress) (*Decoder, error) {
	d := &Decoder{contracts: make(map[common.Address]contractABI)}
	for _, wa := range addresses {
		if wa.Contract == nil {
			continue
		}
		addr := common.HexToAddress(wa.Address)
		c, err := buildContractABI(*wa.Contract)
		if err != nil {
			return nil, fmt.Errorf("evm decoder: address %s: %w", wa.Address, err)
		}
		d.contracts[addr] = c
	}
	return d, nil
}

func buildContractABI(spec config.ContractSpec) (contractABI, error) {
	c := contractABI{methods: map[[4]byte]abi.Method{}, events: map[common.Hash]abi.Event{}}

	for _, fn := range spec.Functions {
		args, err := buildArguments(fn.Inputs, false)
		if err != nil {
			return c, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		method := abi.NewMethod(fn.Name, fn.Name, abi.Function, "", false, false, args, nil)
		var selector [4]byte
		copy(selector[:], method.ID)
		c.methods[selector] = method
	}

	for _, ev := range spec.Events {
		args, err := buildArguments(ev.Inputs, true)
		if err != nil {
			return c, fmt.Errorf("event %s: %w", ev.Name, err)
		}
		event := abi.NewEvent(ev.Name, ev.Name, false, args)
		c.events[event.ID] = event
	}

	return c, nil
}

func buildArguments(params []config.Param, allowIndexed bool) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(params))
	for _, p := range params {
		canon, err := abiutil.CanonicalizeType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
		t, err := abi.NewType(canon, "", nil)
		if err != nil {
			return nil, fmt.Errorf("param %s type %s: %w", p.Name, p.Type, err)
		}
		args = append(args, abi.Argument{Name: p.Name, Type: t, Indexed: allowIndexed && p.Indexed})
	}
	return args, nil
}

// DecodeCall implements source.Decoder.
func (d *Decoder) DecodeCall(contractAddress string, input []byte) (*model.DecodedCall, bool, error) {
	if len(input) < 4 {
		return nil, false, nil
	}
	c, ok := d.contracts[common.HexToAddress(contractAddress)]
	if !ok {
		return nil, false, nil
	}
	var selector [4]byte
	copy(selector[:], input[:4])
	method, ok := c.methods[selector]
	if !ok {
		return nil, false, nil
	}

	values := map[string]any{}
	if err := method.Inputs.UnpackIntoMap(values, input[4:]); err != nil {
		return nil, false, fmt.Errorf("unpack call %s: %w", method.Sig, err)
	}

	return &model.DecodedCall{
		Signature: method.Sig,
		Args:      argsFromMap(method.Inputs, values),
	}, true, nil
}

// DecodeEvent implements source.Decoder.
func (d *Decoder) DecodeEvent(log model.Log) (*model.DecodedEvent, bool, error) {
	if len(log.Topics) == 0 {
		return nil, false, nil
	}
	c, ok := d.contracts[common.HexToAddress(log.Address)]
	if !ok {
		return nil, false, nil
	}
	topic0 := common.HexToHash(log.Topics[0])
	event, ok := c.events[topic0]
	if !ok {
		return nil, false, nil
	}

	indexed, nonIndexed := splitIndexed(event.Inputs)

	topicHashes := make([]common.Hash, 0, len(log.Topics)-1)
	for _, t := range log.Topics[1:] {
		topicHashes = append(topicHashes, common.HexToHash(t))
	}

	values := map[string]any{}
	if err := abi.ParseTopicsIntoMap(values, indexed, topicHashes); err != nil {
		return nil, false, fmt.Errorf("parse topics %s: %w", event.Sig, err)
	}
	if err := nonIndexed.UnpackIntoMap(values, log.Data); err != nil {
		return nil, false, fmt.Errorf("unpack data %s: %w", event.Sig, err)
	}

	return &model.DecodedEvent{
		Signature: event.Sig,
		Args:      argsFromMap(event.Inputs, values),
	}, true, nil
}

func argsFromMap(inputs abi.Arguments, values map[string]any) []model.Arg {
	args := make([]model.Arg, 0, len(inputs))
	for _, in := range inputs {
		args = append(args, model.Arg{Name: in.Name, Type: in.Type.String(), Value: values[in.Name]})
	}
	return args
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}

// CanonicalEventTopic returns the topic0 for a synthesized event by
// name. It is not part of source.Decoder, and the Filter Engine does
// not call it.
func CanonicalEventTopic(name string, params []config.Param) ([32]byte, error) {
	types := make([]string, 0, len(params))
	for _, p := range params {
		types = append(types, p.Type)
	}
	sig := fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
	hash, err := abiutil.Topic0(sig)
	if err != nil {
		return [32]byte{}, err
	}
	return hash, nil
}
