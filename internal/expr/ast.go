// Package expr implements the small predicate language used inside
// monitor match_conditions expressions (spec §4.3): a recursive-descent
// parser producing an immutable AST, and a tree-walking evaluator with
// exact big-integer comparison semantics.
package expr

// NodeKind tags the shape of an AST node.
type NodeKind int

const (
	NodeOr NodeKind = iota
	NodeAnd
	NodeNot
	NodeCompare
	NodeIdent
	NodeLiteral
	NodeList
)

// Op is a comparison/string operator.
type Op string

const (
	OpEq         Op = "=="
	OpNeq        Op = "!="
	OpGt         Op = ">"
	OpGte        Op = ">="
	OpLt         Op = "<"
	OpLte        Op = "<="
	OpContains   Op = "CONTAINS"
	OpStartsWith Op = "STARTS_WITH"
	OpEndsWith   Op = "ENDS_WITH"
	OpIn         Op = "IN"
)

// LiteralKind tags the type of a parsed literal.
type LiteralKind int

const (
	LitInt LiteralKind = iota
	LitString
	LitBool
	LitHex
	LitAddress
)

// Node is one node of the expression AST. Only the fields relevant to
// Kind are populated.
type Node struct {
	Kind NodeKind

	// NodeOr / NodeAnd
	Left, Right *Node

	// NodeNot
	Operand *Node

	// NodeCompare
	Term1, Term2 *Node
	CmpOp        Op

	// NodeIdent
	Ident string

	// NodeLiteral
	LitKind  LiteralKind
	LitRaw   string
	LitBool2 bool

	// NodeList (right-hand side of IN)
	Items []*Node
}

// Expr is a parsed, immutable expression ready for repeated evaluation.
type Expr struct {
	root *Node
	src  string
}

// String returns the original source text, useful for error messages
// and rate-limited logging keys.
func (e *Expr) String() string { return e.src }
