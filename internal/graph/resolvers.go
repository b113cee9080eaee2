package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/asofdb/asof/internal/core/domain"
	"github.com/asofdb/asof/internal/core/usecase"
)

// OperationKind selects the resolver shape for a query field.
type OperationKind string

const (
	// KindSingleton resolves to at most one record.
	KindSingleton OperationKind = "singleton"
	// KindScalar resolves to the list of matching records.
	KindScalar OperationKind = "scalar"
)

// OperationSpec declares one root query field: its name, the argument the
// client passes, and the stored field that argument is matched against. The
// resolver is built from this declaration; there is no per-operation code.
type OperationSpec struct {
	Name     string
	Kind     OperationKind
	Argument string
	Template domain.FilterTemplate
}

// timestampKey carries the resolved reference instant on every record map so
// relationship resolvers observe the same moment as their parent.
const timestampKey = "_timestamp"

type ctxKey string

const callerCtxKey ctxKey = "caller"

// WithCaller stores the request's caller for resolvers to pick up.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey, caller)
}

// CallerFrom returns the caller stored on ctx, or the internal caller when
// none was stored.
func CallerFrom(ctx context.Context) domain.Caller {
	if caller, ok := ctx.Value(callerCtxKey).(domain.Caller); ok {
		return caller
	}
	return domain.Internal()
}

func singletonResolver(store *usecase.RecordStore, spec OperationSpec) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		value, _ := p.Args[spec.Argument].(string)
		filter, err := spec.Template.Bind(value)
		if err != nil {
			return nil, err
		}

		at := timestampArg(p.Args)
		caller := CallerFrom(p.Context)

		var version domain.Version
		if filter.PayloadPath() == "" {
			version, err = store.ReadLatestAsOf(p.Context, filter.Value, at)
		} else {
			var versions []domain.Version
			versions, err = store.ReadManyAsOf(p.Context, filter, at)
			if err == nil {
				if len(versions) == 0 {
					err = domain.ErrNotFound
				} else {
					// CurrentAsOf orders by CreatedAt ascending; the last
					// entry is the most recently written match.
					version = versions[len(versions)-1]
				}
			}
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		// Missing and forbidden are indistinguishable to the client.
		if !version.VisibleTo(caller) {
			return nil, nil
		}
		return recordDTO(version, at)
	}
}

func scalarResolver(store *usecase.RecordStore, spec OperationSpec) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		value, _ := p.Args[spec.Argument].(string)
		filter, err := spec.Template.Bind(value)
		if err != nil {
			return nil, err
		}

		at := timestampArg(p.Args)
		caller := CallerFrom(p.Context)

		versions, err := store.ReadManyAsOf(p.Context, filter, at)
		if err != nil {
			return nil, err
		}

		records := make([]interface{}, 0, len(versions))
		for _, v := range versions {
			if !v.VisibleTo(caller) {
				continue
			}
			record, err := recordDTO(v, at)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		return records, nil
	}
}

func relationResolver(sub *Subgraph, valueField string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		source, ok := p.Source.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("relationship source is %T, want a record", p.Source)
		}
		value, err := foreignKeyValue(source[valueField])
		if err != nil {
			return nil, fmt.Errorf("relation value field %q: %w", valueField, err)
		}
		if value == "" {
			return nil, nil
		}

		millis, ok := source[timestampKey].(int64)
		if !ok {
			millis = time.Now().UnixMilli()
		}

		return sub.Hydrate(p, value, millis, CallerFrom(p.Context).AuthHeader)
	}
}

// foreignKeyValue renders the parent record's key field as the remote
// operation's argument. Payload documents decode numbers as float64, so
// numeric keys print back in plain notation. Anything non-scalar is a
// misconfigured value field and surfaces as a field error.
func foreignKeyValue(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("cannot use %T as a relation argument", raw)
	}
}

// recordDTO flattens a version into the map the engine resolves fields from:
// the payload document with the logical id and the reference instant attached.
func recordDTO(v domain.Version, at time.Time) (map[string]interface{}, error) {
	record := map[string]interface{}{}
	if err := json.Unmarshal(v.Payload, &record); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", v.ID, err)
	}
	record["id"] = v.ID
	record[timestampKey] = at.UnixMilli()
	return record, nil
}

// timestampArg resolves the optional at argument. Absent means now, resolved
// once here so every hop of the request observes the same instant.
func timestampArg(args map[string]interface{}) time.Time {
	if raw, ok := args["at"]; ok {
		if millis, ok := raw.(float64); ok {
			return time.UnixMilli(int64(millis))
		}
	}
	return time.Now()
}
