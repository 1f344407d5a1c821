// Package filter provides AIP-160 filter parsing over decrypted audit logs
// and its translation to SQL.
package filter

import (
	"encoding/base64"
	"fmt"
	"strings"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
)

// AuditLogDeclarations returns the field declarations for audit log filtering.
func AuditLogDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("member", filtering.TypeString),
		filtering.DeclareIdent("device_name", filtering.TypeString),
		filtering.DeclareIdent("kind", filtering.TypeString),
		filtering.DeclareIdent("success", filtering.TypeBool),
		filtering.DeclareIdent("unix_seconds", filtering.TypeInt),
		filtering.DeclareIdent("true", filtering.TypeBool),
		filtering.DeclareIdent("false", filtering.TypeBool),
	)
}

// SQLCondition represents a SQL WHERE clause fragment with parameters.
type SQLCondition struct {
	// Clause is the SQL WHERE clause (e.g., "kind = ?").
	Clause string
	// Params are the positional parameters for the clause.
	Params []any
}

// fieldMapping maps filter field names to audit_logs columns.
var fieldMapping = map[string]string{
	"member":       "member_public_key",
	"device_name":  "device_name",
	"kind":         "kind",
	"success":      "success",
	"unix_seconds": "unix_seconds",
}

// ParseAuditLogFilter parses an AIP-160 filter expression and returns a SQL
// condition. Returns an empty condition for an empty filter string.
//
// member compares against the standard base64 member public key, and a bare
// success matches successful signatures.
func ParseAuditLogFilter(filterStr string) (SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return SQLCondition{}, nil
	}

	decls, err := AuditLogDeclarations()
	if err != nil {
		return SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}

	filter, err := filtering.ParseFilter(filterRequest(filterStr), decls)
	if err != nil {
		return SQLCondition{}, apperrors.Wrap(apperrors.CodeFilterInvalid, "parse filter", err)
	}

	cond, err := translateExpr(filter.CheckedExpr.Expr)
	if err != nil {
		return SQLCondition{}, apperrors.Wrap(apperrors.CodeFilterInvalid, "translate filter", err)
	}
	return cond, nil
}

// filterRequest adapts a raw filter string to filtering.Request.
type filterRequest string

func (r filterRequest) GetFilter() string { return string(r) }

func translateExpr(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	case *expr.Expr_IdentExpr:
		if kind.IdentExpr.Name == "success" {
			return SQLCondition{Clause: "success = ?", Params: []any{1}}, nil
		}
		return SQLCondition{}, fmt.Errorf("identifier %s is not a condition", kind.IdentExpr.Name)
	default:
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func translateCall(call *expr.Expr_Call) (SQLCondition, error) {
	switch call.Function {
	case "_&&_", "AND":
		return translateJunction(call.Args, "AND")
	case "_||_", "OR":
		return translateJunction(call.Args, "OR")
	case "NOT":
		return translateNot(call.Args)
	case "_==_", "=":
		return translateComparison(call.Args, "=")
	case "_!=_", "!=":
		return translateComparison(call.Args, "!=")
	case "_<_", "<":
		return translateComparison(call.Args, "<")
	case "_<=_", "<=":
		return translateComparison(call.Args, "<=")
	case "_>_", ">":
		return translateComparison(call.Args, ">")
	case "_>=_", ">=":
		return translateComparison(call.Args, ">=")
	default:
		return SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateJunction(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("%s requires 2 arguments", op)
	}

	left, err := translateExpr(args[0])
	if err != nil {
		return SQLCondition{}, err
	}

	right, err := translateExpr(args[1])
	if err != nil {
		return SQLCondition{}, err
	}

	return SQLCondition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, op, right.Clause),
		Params: append(left.Params, right.Params...),
	}, nil
}

func translateNot(args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 1 {
		return SQLCondition{}, fmt.Errorf("NOT requires 1 argument")
	}
	inner, err := translateExpr(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	return SQLCondition{Clause: fmt.Sprintf("(NOT %s)", inner.Clause), Params: inner.Params}, nil
}

func translateComparison(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}

	field, err := extractFieldName(args[0])
	if err != nil {
		return SQLCondition{}, err
	}

	column, ok := fieldMapping[field]
	if !ok {
		return SQLCondition{}, fmt.Errorf("unknown field: %s", field)
	}

	value, err := extractValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}

	switch field {
	case "member":
		if op != "=" && op != "!=" {
			return SQLCondition{}, fmt.Errorf("member supports only = and !=")
		}
		s, ok := value.(string)
		if !ok {
			return SQLCondition{}, fmt.Errorf("member must be a base64 string")
		}
		key, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return SQLCondition{}, fmt.Errorf("member must be a base64 string: %w", err)
		}
		value = key
	case "success":
		b, ok := value.(bool)
		if !ok {
			return SQLCondition{}, fmt.Errorf("success must be a boolean")
		}
		value = 0
		if b {
			value = 1
		}
	}

	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
	}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		return extractConstValue(kind.ConstExpr)
	case *expr.Expr_IdentExpr:
		switch kind.IdentExpr.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("expected constant, got identifier %s", kind.IdentExpr.Name)
	default:
		return nil, fmt.Errorf("expected constant, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}

	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return kind.Uint64Value, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}
