// Package graph builds a collection's GraphQL query surface from declarative
// operation tables and resolves relationship fields by forwarding sub-queries
// to the peer service that owns the related collection.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
)

const defaultHopTimeout = 5 * time.Second

// FederationError marks a failure on a forwarded hop. The enclosing resolver
// returns it as-is, so the engine nulls the one field and keeps resolving
// siblings.
type FederationError struct {
	Host      string
	Operation string
	Err       error
}

func (e *FederationError) Error() string {
	return fmt.Sprintf("federated call %s at %s: %v", e.Operation, e.Host, e.Err)
}

func (e *FederationError) Unwrap() error {
	return e.Err
}

// Subgraph is a client for one operation on one remote query endpoint.
type Subgraph struct {
	host      string
	operation string
	argument  string
	client    *http.Client
}

func NewSubgraph(host, operation, argument string, timeout time.Duration) *Subgraph {
	if argument == "" {
		argument = "id"
	}
	if timeout <= 0 {
		timeout = defaultHopTimeout
	}
	return &Subgraph{
		host:      host,
		operation: operation,
		argument:  argument,
		client:    &http.Client{Timeout: timeout},
	}
}

// Hydrate resolves a relationship field remotely: it lifts the field's own
// sub-selection out of the resolve info, wraps it in a call to the remote
// operation, pins the reference instant, and forwards the query under the
// caller's credentials.
func (s *Subgraph) Hydrate(p graphql.ResolveParams, value string, millis int64, authHeader string) (interface{}, error) {
	selection, err := selectionText(p)
	if err != nil {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: err}
	}

	query := fmt.Sprintf("{%s(%s: %q) %s}", s.operation, s.argument, value, selection)
	query, err = injectTimestamp(query, s.operation, millis)
	if err != nil {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: err}
	}

	return s.Call(p.Context, query, authHeader)
}

// Call posts a query to the remote endpoint and unwraps data.<operation>.
func (s *Subgraph) Call(ctx context.Context, query, authHeader string) (interface{}, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host, bytes.NewReader(body))
	if err != nil {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &FederationError{
			Host:      s.host,
			Operation: s.operation,
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var envelope struct {
		Data   map[string]json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Errors) > 0 {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: errors.New(envelope.Errors[0].Message)}
	}

	raw, ok := envelope.Data[s.operation]
	if !ok {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: errors.New("response missing operation field")}
	}
	var result interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &FederationError{Host: s.host, Operation: s.operation, Err: fmt.Errorf("decode operation field: %w", err)}
	}
	return result, nil
}

// selectionText prints the sub-selection the client asked for under the field
// being resolved. A relationship field without one is a malformed request.
func selectionText(p graphql.ResolveParams) (string, error) {
	if len(p.Info.FieldASTs) == 0 {
		return "", errors.New("resolve info carries no field AST")
	}
	set := p.Info.FieldASTs[0].SelectionSet
	if set == nil {
		return "", errors.New("relationship field queried without a selection set")
	}
	printed, _ := printer.Print(set).(string)
	if printed == "" {
		return "", errors.New("empty selection set")
	}
	return printed, nil
}

// injectTimestamp pins the reference instant on every invocation of operation
// in query that does not already carry one. The rewrite happens on the parsed
// AST, never on the query text.
func injectTimestamp(query, operation string, millis int64) (string, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return "", fmt.Errorf("parse forwarded query: %w", err)
	}

	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		stampFields(op.SelectionSet, operation, millis)
	}

	printed, _ := printer.Print(doc).(string)
	if printed == "" {
		return "", errors.New("print forwarded query")
	}
	return printed, nil
}

func stampFields(set *ast.SelectionSet, operation string, millis int64) {
	if set == nil {
		return
	}
	for _, sel := range set.Selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if field.Name != nil && field.Name.Value == operation && !hasArgument(field, "at") {
			field.Arguments = append(field.Arguments, ast.NewArgument(&ast.Argument{
				Name:  ast.NewName(&ast.Name{Value: "at"}),
				Value: ast.NewIntValue(&ast.IntValue{Value: strconv.FormatInt(millis, 10)}),
			}))
		}
		stampFields(field.SelectionSet, operation, millis)
	}
}

func hasArgument(field *ast.Field, name string) bool {
	for _, arg := range field.Arguments {
		if arg.Name != nil && arg.Name.Value == name {
			return true
		}
	}
	return false
}
