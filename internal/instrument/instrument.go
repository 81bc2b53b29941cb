// Package instrument rewrites Lua source so a line-hook global function
// fires at every reachable statement, standing in for gopher-lua's debug
// library, which carries no sethook of any kind (debuglib.go's debugFuncs
// lists getfenv/getinfo/getlocal/getmetatable/getupvalue/setfenv/setlocal/
// setmetatable/setupvalue/traceback only). Without a native hook, the only
// place left to observe "the VM is about to run line N" is the source text
// itself, before it is ever compiled.
//
// Source parses with the VM's own parser (github.com/yuin/gopher-lua/parse)
// so every insertion point is a position the grammar already proved is a
// valid statement boundary — never a guess about column or indentation.
package instrument

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Source parses src and returns a copy with a call to hookFn(line) spliced
// onto the start of every physical line that begins a statement, where line
// is that statement's original 1-based source line. Splicing onto the
// existing line rather than inserting a new one keeps every other line
// number identical to the original, so breakpoints set against the
// unmodified file still address the right line in the instrumented one.
//
// Statements nested in every block form (if/while/repeat/for/do, named and
// anonymous function bodies) are covered; the walker descends into every
// expression form, so statements inside function literals in table
// constructors and call arguments are hooked as well. name is used only
// for parse error messages.
func Source(src, hookFn, name string) (string, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return "", fmt.Errorf("instrument: parsing %s: %w", name, err)
	}

	lines := make(map[int]struct{})
	walkStmts(chunk, lines)

	return splice(src, lines, hookFn), nil
}

func walkStmts(stmts []ast.Stmt, lines map[int]struct{}) {
	for _, stmt := range stmts {
		lines[stmt.Line()] = struct{}{}

		switch s := stmt.(type) {
		case *ast.AssignStmt:
			walkExprs(s.Lhs, lines)
			walkExprs(s.Rhs, lines)
		case *ast.LocalAssignStmt:
			walkExprs(s.Exprs, lines)
		case *ast.FuncCallStmt:
			walkExpr(s.Expr, lines)
		case *ast.DoBlockStmt:
			walkStmts(s.Stmts, lines)
		case *ast.WhileStmt:
			walkExpr(s.Condition, lines)
			walkStmts(s.Stmts, lines)
		case *ast.RepeatStmt:
			walkExpr(s.Condition, lines)
			walkStmts(s.Stmts, lines)
		case *ast.IfStmt:
			walkExpr(s.Condition, lines)
			walkStmts(s.Then, lines)
			walkStmts(s.Else, lines)
		case *ast.NumberForStmt:
			walkExpr(s.Init, lines)
			walkExpr(s.Limit, lines)
			walkExpr(s.Step, lines)
			walkStmts(s.Stmts, lines)
		case *ast.GenericForStmt:
			walkExprs(s.Exprs, lines)
			walkStmts(s.Stmts, lines)
		case *ast.FuncDefStmt:
			walkStmts(s.Func.Stmts, lines)
		case *ast.ReturnStmt:
			walkExprs(s.Exprs, lines)
		}
	}
}

func walkExprs(exprs []ast.Expr, lines map[int]struct{}) {
	for _, e := range exprs {
		walkExpr(e, lines)
	}
}

func walkExpr(expr ast.Expr, lines map[int]struct{}) {
	switch e := expr.(type) {
	case *ast.FunctionExpr:
		walkStmts(e.Stmts, lines)
	case *ast.AttrGetExpr:
		walkExpr(e.Object, lines)
		walkExpr(e.Key, lines)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			if f.Key != nil {
				walkExpr(f.Key, lines)
			}
			walkExpr(f.Value, lines)
		}
	case *ast.FuncCallExpr:
		walkExpr(e.Func, lines)
		if e.Receiver != nil {
			walkExpr(e.Receiver, lines)
		}
		walkExprs(e.Args, lines)
	case *ast.LogicalOpExpr:
		walkExpr(e.Lhs, lines)
		walkExpr(e.Rhs, lines)
	case *ast.RelationalOpExpr:
		walkExpr(e.Lhs, lines)
		walkExpr(e.Rhs, lines)
	case *ast.StringConcatOpExpr:
		walkExpr(e.Lhs, lines)
		walkExpr(e.Rhs, lines)
	case *ast.ArithmeticOpExpr:
		walkExpr(e.Lhs, lines)
		walkExpr(e.Rhs, lines)
	case *ast.UnaryMinusOpExpr:
		walkExpr(e.Expr, lines)
	case *ast.UnaryNotOpExpr:
		walkExpr(e.Expr, lines)
	case *ast.UnaryLenOpExpr:
		walkExpr(e.Expr, lines)
	}
}

// splice prepends hookFn(N); to every line in lines, preserving the total
// line count (and so every un-instrumented line's number) exactly.
func splice(src string, lines map[int]struct{}, hookFn string) string {
	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out strings.Builder
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if _, ok := lines[lineNo]; ok {
			fmt.Fprintf(&out, "%s(%d);", hookFn, lineNo)
		}
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
	}
	return out.String()
}
