// Package app wires one process: the sqlite version log, the change feed
// dispatcher, and every graphlette and restlette the topology file mounts.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/asofdb/asof/internal/adapters/events"
	"github.com/asofdb/asof/internal/adapters/httpapi"
	sqliteadapter "github.com/asofdb/asof/internal/adapters/sqlite"
	"github.com/asofdb/asof/internal/adapters/sqlite/gormsqlite"
	"github.com/asofdb/asof/internal/config"
	"github.com/asofdb/asof/internal/core/domain"
	"github.com/asofdb/asof/internal/core/ports"
	"github.com/asofdb/asof/internal/core/usecase"
	"github.com/asofdb/asof/internal/graph"
	"github.com/asofdb/asof/migrations"
)

type Config struct {
	Addr          string
	DBPath        string
	ConfigPath    string
	WebhookURL    string
	WebhookSecret string
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	svc, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	db, err := gormsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open version log sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	repo := sqliteadapter.NewVersionRepository(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)

	var publisher ports.EventPublisher = events.NewLogPublisher()
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, 2*time.Second, 100)
	dispatcher.Start(context.Background())

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}` + "\n"))
	})

	closeAll := func() {
		_ = dispatcher.Close()
		_ = db.Close()
	}

	graphPaths := make([]string, 0, len(svc.Graphlettes))
	for _, g := range svc.Graphlettes {
		validator, err := usecase.NewValidator(nil)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		store := usecase.NewRecordStore(repo, g.Collection, validator)
		schema, err := graph.NewSchema(store, toSchemaSpec(g))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("graphlette %s: %w", g.Path, err)
		}
		router.Mount(g.Path, httpapi.NewGraphlette(schema).Router())
		graphPaths = append(graphPaths, g.Path)
	}

	restPaths := make([]string, 0, len(svc.Restlettes))
	for _, r := range svc.Restlettes {
		validator, err := usecase.NewValidator(r.Schema)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("restlette %s: %w", r.Path, err)
		}
		store := usecase.NewRecordStore(repo, r.Collection, validator)
		bulk := httpapi.NewBulkClient(strings.TrimSuffix(svc.URL, "/")+r.Path, 0)
		router.Mount(r.Path, httpapi.NewRestlette(store, r.Schema, bulk).Router())
		restPaths = append(restPaths, r.Path)
	}

	router.Get("/", httpapi.IndexHandler(graphPaths, restPaths))

	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", svc.Port)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{dispatcher, db}}, nil
}

func toSchemaSpec(g config.Graphlette) graph.SchemaSpec {
	spec := graph.SchemaSpec{
		Entity: graph.EntitySpec{
			Name:   g.Entity.Name,
			Fields: toFieldSpecs(g.Entity.Fields),
		},
	}
	for _, rel := range g.Entity.Relations {
		spec.Entity.Relations = append(spec.Entity.Relations, graph.RelationSpec{
			Name:       rel.Name,
			Type:       rel.Type,
			Host:       rel.Host,
			Operation:  rel.Operation,
			Argument:   rel.Argument,
			ValueField: rel.ValueField,
			List:       rel.List,
		})
	}
	for _, t := range g.Types {
		spec.Types = append(spec.Types, graph.ObjectSpec{
			Name:   t.Name,
			Fields: toFieldSpecs(t.Fields),
		})
	}
	for _, op := range g.Operations {
		spec.Operations = append(spec.Operations, graph.OperationSpec{
			Name:     op.Name,
			Kind:     graph.OperationKind(op.Kind),
			Argument: op.Argument,
			Template: domain.FilterTemplate{Field: op.Field, Argument: op.Argument},
		})
	}
	return spec
}

func toFieldSpecs(fields []config.Field) []graph.FieldSpec {
	specs := make([]graph.FieldSpec, 0, len(fields))
	for _, f := range fields {
		specs = append(specs, graph.FieldSpec{Name: f.Name, Type: f.Type, List: f.List})
	}
	return specs
}
