package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/watch-tower/internal/expr"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/source"
	"github.com/devblac/watch-tower/internal/tmpl"
)

// errorLimiterCapacity/Rate bound expression-error log lines to one
// per (monitor, signature) pair roughly every 10s, per spec §7
// "logged once per (monitor, signature) pair with rate-limit" — same
// shape as internal/expr.TokenBucket's own doc comment.
const (
	errorLimiterCapacity = 1
	errorLimiterRate     = 0.1
)

// Engine evaluates compiled monitors against blocks. Besides the
// Decoder it holds only the rate limiter for expression-evaluation
// error logging (spec §4.3/§7); it keeps no per-block state, matching
// spec §4.2's "stateless transformer" framing.
type Engine struct {
	decoder source.Decoder
	log     *slog.Logger
	errLim  *expr.ErrorLimiters
}

// New builds an Engine backed by decoder, the chain-family-specific
// call/event decoder for the network being evaluated.
func New(decoder source.Decoder, log *slog.Logger) *Engine {
	return &Engine{
		decoder: decoder,
		log:     log,
		errLim:  expr.NewErrorLimiters(errorLimiterCapacity, errorLimiterRate),
	}
}

// evalCondition runs expr against env for one (monitor, signature)
// condition. An unresolved identifier (spec §4.3 "Missing identifier
// -> evaluation error") is logged rate-limited per (monitor,
// signature) and treated as a non-match rather than aborting
// Evaluate for the whole block (spec §7 "condition treated as
// non-match; logged once per (monitor, signature) pair with
// rate-limit"). Any other evaluation error still aborts, since it
// signals a bug rather than a runtime data-dependent condition.
func (e *Engine) evalCondition(monitorName, signature string, compiled *expr.Expr, env expr.Env) (bool, error) {
	matched, err := compiled.Eval(env)
	if err == nil {
		return matched, nil
	}
	if !errors.Is(err, expr.ErrUnresolvedIdent) {
		return false, err
	}
	key := fmt.Sprintf("%s:%s", monitorName, signature)
	if e.errLim.Allow(key, time.Now()) {
		e.log.Warn("expression evaluation error", "monitor", monitorName, "signature", signature, "error", err)
	}
	return false, nil
}

// Evaluate implements the Filter Engine's (block, monitors) -> matches
// transform.
func (e *Engine) Evaluate(block model.Block, monitors []*CompiledMonitor) ([]model.Match, error) {
	var out []model.Match
	for _, cm := range monitors {
		if _, ok := cm.Networks[block.NetworkSlug]; !ok {
			continue
		}
		for _, tx := range block.Transactions {
			matches, err := e.evaluateTransaction(block, cm, tx)
			if err != nil {
				return nil, err
			}
			out = append(out, matches...)
		}
	}
	return out, nil
}

func (e *Engine) evaluateTransaction(block model.Block, cm *CompiledMonitor, tx model.Transaction) ([]model.Match, error) {
	if !addressMatches(cm, tx) {
		return nil, nil
	}

	var out []model.Match

	txMatches, err := e.evaluateTransactionConditions(block, cm, tx)
	if err != nil {
		return nil, err
	}
	out = append(out, txMatches...)

	callMatches, err := e.evaluateFunctionConditions(block, cm, tx)
	if err != nil {
		return nil, err
	}
	out = append(out, callMatches...)

	eventMatches, err := e.evaluateEventConditions(block, cm, tx)
	if err != nil {
		return nil, err
	}
	out = append(out, eventMatches...)

	return out, nil
}

// addressMatches implements the address filter: a monitor with no
// watched addresses matches everything; otherwise the transaction's
// target or one of its logs' addresses must intersect the set.
func addressMatches(cm *CompiledMonitor, tx model.Transaction) bool {
	if len(cm.Addresses) == 0 {
		return true
	}
	if _, ok := cm.Addresses[normalizeAddress(tx.To)]; ok {
		return true
	}
	for _, l := range tx.Logs {
		if _, ok := cm.Addresses[normalizeAddress(l.Address)]; ok {
			return true
		}
	}
	return false
}

func ambientFields(block model.Block, tx model.Transaction) map[string]any {
	return map[string]any{
		"from":         tx.From,
		"to":           tx.To,
		"value":        tx.Value,
		"gas_used":     tx.GasUsed,
		"status":       string(tx.Status),
		"hash":         tx.Hash,
		"block_number": block.Number,
	}
}

func (e *Engine) evaluateTransactionConditions(block model.Block, cm *CompiledMonitor, tx model.Transaction) ([]model.Match, error) {
	var out []model.Match
	ambient := ambientFields(block, tx)
	for _, tc := range cm.Transactions {
		if tc.Status != model.StatusAny && tc.Status != tx.Status {
			continue
		}
		if tc.Expr != nil {
			ok, err := e.evalCondition(cm.Monitor.Name, "transaction", tc.Expr, expr.Env{Ambient: ambient})
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, newMatch(block, cm, tx, model.ConditionTransaction, "transaction", nil, nil, ambient))
	}
	return out, nil
}

func (e *Engine) evaluateFunctionConditions(block model.Block, cm *CompiledMonitor, tx model.Transaction) ([]model.Match, error) {
	if len(cm.Functions) == 0 || len(tx.Input) == 0 {
		return nil, nil
	}
	// addressMatches only establishes that *something* about tx passed
	// the coarse filter (it may be one of tx.Logs' addresses); a
	// function call is decoded against tx.To specifically, so gate on
	// tx.To directly when this monitor declares addresses (spec §3
	// invariant: "a watched address plus signature hash uniquely
	// selects the decoding rule").
	if len(cm.Addresses) > 0 {
		if _, ok := cm.Addresses[normalizeAddress(tx.To)]; !ok {
			return nil, nil
		}
	}
	call, ok, err := e.decoder.DecodeCall(tx.To, tx.Input)
	if err != nil || !ok {
		return nil, err
	}

	var out []model.Match
	argsMap := model.ArgsMap(call.Args)
	ambient := ambientFields(block, tx)
	for _, cc := range cm.Functions {
		if cc.Signature != call.Signature {
			continue
		}
		if cc.Expr != nil {
			matched, err := e.evalCondition(cm.Monitor.Name, call.Signature, cc.Expr, expr.Env{Args: argsMap, Ambient: ambient})
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
		}
		out = append(out, newMatch(block, cm, tx, model.ConditionFunction, call.Signature, argsMap, nil, ambient))
	}
	return out, nil
}

func (e *Engine) evaluateEventConditions(block model.Block, cm *CompiledMonitor, tx model.Transaction) ([]model.Match, error) {
	if len(cm.Events) == 0 || len(tx.Logs) == 0 {
		return nil, nil
	}

	var out []model.Match
	ambient := ambientFields(block, tx)
	for _, log := range tx.Logs {
		// Each log carries its own emitting address; a monitor with a
		// declared address set must only decode logs emitted by one of
		// its own addresses, not any log that happened to appear in a
		// transaction another monitor's address filter let through
		// (internal/source.Decoder is shared across every monitor on
		// the network, keyed on address+signature).
		if len(cm.Addresses) > 0 {
			if _, ok := cm.Addresses[normalizeAddress(log.Address)]; !ok {
				continue
			}
		}
		event, ok, err := e.decoder.DecodeEvent(log)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		argsMap := model.ArgsMap(event.Args)
		for _, cc := range cm.Events {
			if cc.Signature != event.Signature {
				continue
			}
			if cc.Expr != nil {
				matched, err := e.evalCondition(cm.Monitor.Name, event.Signature, cc.Expr, expr.Env{Args: argsMap, Ambient: ambient})
				if err != nil {
					return nil, err
				}
				if !matched {
					continue
				}
			}
			idx := log.Index
			out = append(out, newMatch(block, cm, tx, model.ConditionEvent, event.Signature, argsMap, &idx, ambient))
		}
	}
	return out, nil
}

func newMatch(block model.Block, cm *CompiledMonitor, tx model.Transaction, kind model.ConditionKind, signature string, args map[string]any, logIndex *uint, ambient map[string]any) model.Match {
	decoded := make(map[string]any, len(args))
	for k, v := range args {
		decoded[k] = v
	}

	vars := tmpl.FlattenVariables(ambient)
	for k, v := range tmpl.FlattenVariables(args) {
		vars[k] = v
	}

	return model.Match{
		MonitorName:      cm.Monitor.Name,
		NetworkSlug:      block.NetworkSlug,
		BlockNumber:      block.Number,
		TxHash:           tx.Hash,
		LogIndex:         logIndex,
		MatchedCondition: model.MatchedCondition{Kind: kind, Signature: signature},
		DecodedArgs:      decoded,
		Variables:        vars,
		TriggerNames:     cm.Monitor.Triggers,
	}
}
