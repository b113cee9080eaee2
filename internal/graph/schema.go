package graph

import (
	"fmt"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/asofdb/asof/internal/core/usecase"
)

// FieldSpec is one plain field on an object type. Type is a GraphQL scalar
// name (ID, String, Int, Float, Boolean) or the name of another declared
// type; plain fields resolve by key lookup on the record.
type FieldSpec struct {
	Name string
	Type string
	List bool
}

// RelationSpec is a field hydrated from a peer service. ValueField names the
// key on the parent record whose value is passed as the remote operation's
// argument.
type RelationSpec struct {
	Name       string
	Type       string
	Host       string
	Operation  string
	Argument   string
	ValueField string
	List       bool
}

// ObjectSpec shapes a type that only ever arrives as federated data; its
// fields resolve by plain key lookup.
type ObjectSpec struct {
	Name   string
	Fields []FieldSpec
}

// EntitySpec shapes the collection this service serves, including the
// relationship fields it federates out.
type EntitySpec struct {
	Name      string
	Fields    []FieldSpec
	Relations []RelationSpec
}

// SchemaSpec is everything needed to build one query endpoint's schema.
type SchemaSpec struct {
	Entity     EntitySpec
	Types      []ObjectSpec
	Operations []OperationSpec
	HopTimeout time.Duration
}

var scalarTypes = map[string]graphql.Output{
	"ID":      graphql.ID,
	"String":  graphql.String,
	"Int":     graphql.Int,
	"Float":   graphql.Float,
	"Boolean": graphql.Boolean,
}

// NewSchema builds the executable schema for one collection: an object type
// per declared shape, federated relationship fields on the entity, and a root
// query field per declared operation. Every root field takes the operation's
// argument plus an optional at instant in epoch millis. The instant rides as
// a Float because GraphQL Int is 32 bits.
func NewSchema(store *usecase.RecordStore, spec SchemaSpec) (graphql.Schema, error) {
	// Two passes so declared types can reference each other.
	objects := make(map[string]*graphql.Object, len(spec.Types)+1)
	for _, t := range spec.Types {
		objects[t.Name] = graphql.NewObject(graphql.ObjectConfig{Name: t.Name, Fields: graphql.Fields{}})
	}
	entity := graphql.NewObject(graphql.ObjectConfig{Name: spec.Entity.Name, Fields: graphql.Fields{}})
	objects[spec.Entity.Name] = entity

	for _, t := range spec.Types {
		if err := addFields(objects, objects[t.Name], t.Fields); err != nil {
			return graphql.Schema{}, err
		}
	}
	if err := addFields(objects, entity, spec.Entity.Fields); err != nil {
		return graphql.Schema{}, err
	}

	for _, rel := range spec.Entity.Relations {
		target, ok := objects[rel.Type]
		if !ok {
			return graphql.Schema{}, fmt.Errorf("relation %s.%s: unknown type %q", spec.Entity.Name, rel.Name, rel.Type)
		}
		if rel.ValueField == "" {
			return graphql.Schema{}, fmt.Errorf("relation %s.%s: value field required", spec.Entity.Name, rel.Name)
		}
		var fieldType graphql.Output = target
		if rel.List {
			fieldType = graphql.NewList(target)
		}
		sub := NewSubgraph(rel.Host, rel.Operation, rel.Argument, spec.HopTimeout)
		entity.AddFieldConfig(rel.Name, &graphql.Field{
			Type:    fieldType,
			Resolve: relationResolver(sub, rel.ValueField),
		})
	}

	queryFields := graphql.Fields{}
	for _, op := range spec.Operations {
		if err := op.Template.Validate(); err != nil {
			return graphql.Schema{}, fmt.Errorf("operation %s: template %+v: %w", op.Name, op.Template, err)
		}
		if op.Argument == "" {
			return graphql.Schema{}, fmt.Errorf("operation %s: argument name required", op.Name)
		}

		var fieldType graphql.Output
		var resolve graphql.FieldResolveFn
		switch op.Kind {
		case KindSingleton:
			fieldType = entity
			resolve = singletonResolver(store, op)
		case KindScalar:
			fieldType = graphql.NewList(entity)
			resolve = scalarResolver(store, op)
		default:
			return graphql.Schema{}, fmt.Errorf("operation %s: unknown kind %q", op.Name, op.Kind)
		}

		queryFields[op.Name] = &graphql.Field{
			Type: fieldType,
			Args: graphql.FieldConfigArgument{
				op.Argument: &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"at":        &graphql.ArgumentConfig{Type: graphql.Float},
			},
			Resolve: resolve,
		}
	}
	if len(queryFields) == 0 {
		return graphql.Schema{}, fmt.Errorf("collection %s: no operations declared", store.Collection())
	}

	query := graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields})
	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}

func addFields(objects map[string]*graphql.Object, obj *graphql.Object, specs []FieldSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("type %s: no fields declared", obj.Name())
	}
	for _, f := range specs {
		var fieldType graphql.Output
		if scalar, ok := scalarTypes[f.Type]; ok {
			fieldType = scalar
		} else if target, ok := objects[f.Type]; ok {
			fieldType = target
		} else {
			return fmt.Errorf("type %s: field %s: unknown type %q", obj.Name(), f.Name, f.Type)
		}
		if f.List {
			fieldType = graphql.NewList(fieldType)
		}
		obj.AddFieldConfig(f.Name, &graphql.Field{Type: fieldType})
	}
	return nil
}
