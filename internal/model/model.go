// Package model holds the chain-agnostic data types shared by the
// watcher, filter, and notification subsystems.
package model

import (
	"fmt"
	"math/big"
)

// ChainFamily tags which decoder/client implementation a network uses.
type ChainFamily string

const (
	ChainEVM      ChainFamily = "evm"
	ChainStellar  ChainFamily = "stellar"
	ChainAlgorand ChainFamily = "algorand"
)

// TxStatus is the outcome of a transaction, used by transaction-level
// match conditions.
type TxStatus string

const (
	StatusSuccess TxStatus = "success"
	StatusFailure TxStatus = "failure"
	StatusAny     TxStatus = "any"
)

// Log is a single emitted event record, chain-agnostic.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
	Index   uint
}

// Transaction is the common projection of a chain transaction used by
// the Filter Engine. EVM populates From/To/Value/Input/Status/Logs;
// Stellar and Algorand populate the operation-equivalent fields.
type Transaction struct {
	Hash     string
	From     string
	To       string
	Value    *big.Int
	Input    []byte
	Status   TxStatus
	GasUsed  uint64
	Logs     []Log
	AppID    uint64 // Algorand application ID, if any
	LogIndex *uint  // set once a specific log is being matched
}

// Block is a chain-family-tagged projection of one fetched block/round/ledger.
type Block struct {
	Chain        ChainFamily
	NetworkSlug  string
	Number       uint64
	Hash         string
	ParentHash   string
	Timestamp    int64
	Transactions []Transaction
}

// Arg is one named, typed, decoded argument produced by a decoder.
type Arg struct {
	Name  string
	Type  string
	Value any
}

// DecodedCall is a decoded function invocation: canonical signature plus args.
type DecodedCall struct {
	Signature string
	Args      []Arg
}

// DecodedEvent is a decoded log/event: canonical signature plus args.
type DecodedEvent struct {
	Signature string
	Args      []Arg
}

// ConditionKind distinguishes which match_conditions array produced a match.
type ConditionKind string

const (
	ConditionFunction    ConditionKind = "function"
	ConditionEvent       ConditionKind = "event"
	ConditionTransaction ConditionKind = "transaction"
)

// MatchedCondition identifies exactly which monitor condition fired.
type MatchedCondition struct {
	Kind      ConditionKind
	Signature string
}

// Match is the immutable record emitted by the Filter Engine for one
// satisfied monitor condition in one transaction.
type Match struct {
	MonitorName      string
	NetworkSlug      string
	BlockNumber      uint64
	TxHash           string
	LogIndex         *uint
	MatchedCondition MatchedCondition
	DecodedArgs      map[string]any
	Variables        map[string]string
	TriggerNames     []string
}

// ConditionIdentity is the dedup key component identifying a condition
// within a match (spec §3 invariant: at most once per tx/monitor/condition).
// Event matches fold in the log index so two occurrences of the same
// event signature within one transaction dedupe independently.
func (m Match) ConditionIdentity() string {
	id := string(m.MatchedCondition.Kind) + ":" + m.MatchedCondition.Signature
	if m.LogIndex != nil {
		id += fmt.Sprintf(":#%d", *m.LogIndex)
	}
	return id
}

// ArgsMap flattens a slice of Args into a plain map for expression evaluation.
func ArgsMap(args []Arg) map[string]any {
	out := make(map[string]any, len(args))
	for _, a := range args {
		out[a.Name] = a.Value
	}
	return out
}
