// Package graphstore persists the DAG Builder's (C6) task graph to
// ArangoDB for downstream inspection. It is strictly optional: spec §4.6
// names no required durable store for the DAG, so every method here fails
// soft — a Store's caller logs and continues rather than failing the run.
// Grounded on the teacher's common/arangodb/client.go connection/collection
// setup, generalized from a code graph's functions/types/calls collections
// to a task graph's tasks/predecessors collections.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"

	"devmatrix.dev/core/internal/domain"
)

// Config names the ArangoDB connection the Store persists task graphs to.
type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

const (
	tasksCollection        = "tasks"
	predecessorsCollection = "predecessors"
)

// Store persists one run's DAG into ArangoDB, best-effort.
type Store struct {
	client arangodb.Client
	db     arangodb.Database
	cfg    Config
}

// New opens a connection without touching the database; call EnsureSchema
// before the first Persist.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("graphstore config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))
	if err := conn.SetAuthentication(connection.NewBasicAuth(cfg.Username, cfg.Password)); err != nil {
		return nil, fmt.Errorf("graphstore auth: %w", err)
	}

	return &Store{client: arangodb.NewClient(conn), cfg: cfg}, nil
}

// EnsureSchema creates the database and the tasks/predecessors collections
// if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.DatabaseExists(ctx, s.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}
	if !exists {
		if _, err := s.client.CreateDatabase(ctx, s.cfg.Database, nil); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
	}

	db, err := s.client.GetDatabase(ctx, s.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	s.db = db

	if err := s.ensureCollection(ctx, tasksCollection, false); err != nil {
		return err
	}
	return s.ensureCollection(ctx, predecessorsCollection, true)
}

func (s *Store) ensureCollection(ctx context.Context, name string, isEdge bool) error {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", name, err)
	}
	if exists {
		return nil
	}

	props := &arangodb.CreateCollectionPropertiesV2{}
	colType := arangodb.CollectionTypeDocument
	if isEdge {
		colType = arangodb.CollectionTypeEdge
	}
	props.Type = &colType

	if _, err := s.db.CreateCollectionV2(ctx, name, props); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	slog.InfoContext(ctx, "graphstore collection created", "collection", name, "is_edge", isEdge)
	return nil
}

// Persist writes run's DAG as task documents plus predecessor edges. A
// failure is logged and swallowed: the DAG is a debugging aid, not a
// dependency any pipeline phase reads back from.
func (s *Store) Persist(ctx context.Context, runID string, d domain.DAG) {
	if err := s.persist(ctx, runID, d); err != nil {
		slog.WarnContext(ctx, "graphstore persist failed", "run_id", runID, "error", err)
	}
}

func (s *Store) persist(ctx context.Context, runID string, d domain.DAG) error {
	if s.db == nil {
		return fmt.Errorf("graphstore: schema not initialized")
	}

	tasksCol, err := s.db.GetCollection(ctx, tasksCollection, nil)
	if err != nil {
		return fmt.Errorf("get tasks collection: %w", err)
	}

	taskDocs := make([]map[string]any, 0, len(d.Nodes))
	var edgeDocs []map[string]any
	for id, node := range d.Nodes {
		taskDocs = append(taskDocs, map[string]any{
			"_key":    taskKey(runID, id),
			"run_id":  runID,
			"task_id": id,
			"layer":   node.Layer,
			"purpose": node.Task.Purpose,
			"status":  string(node.Task.Status),
		})
		for _, pred := range node.Task.Predecessors {
			edgeDocs = append(edgeDocs, map[string]any{
				"_key":  taskKey(runID, pred) + "-" + taskKey(runID, id),
				"_from": fmt.Sprintf("%s/%s", tasksCollection, taskKey(runID, pred)),
				"_to":   fmt.Sprintf("%s/%s", tasksCollection, taskKey(runID, id)),
			})
		}
	}

	if len(taskDocs) > 0 {
		reader, err := tasksCol.CreateDocuments(ctx, taskDocs)
		if err != nil {
			return fmt.Errorf("create task documents: %w", err)
		}
		// Duplicate _key on a re-run of the same run ID is expected; consume
		// the response stream and ignore per-document errors.
		for {
			if _, readErr := reader.Read(); readErr != nil {
				break
			}
		}
	}

	if len(edgeDocs) > 0 {
		edgesCol, err := s.db.GetCollection(ctx, predecessorsCollection, nil)
		if err != nil {
			return fmt.Errorf("get predecessors collection: %w", err)
		}
		reader, err := edgesCol.CreateDocuments(ctx, edgeDocs)
		if err != nil {
			return fmt.Errorf("create predecessor edge documents: %w", err)
		}
		for {
			if _, readErr := reader.Read(); readErr != nil {
				break
			}
		}
	}

	return nil
}

func taskKey(runID, taskID string) string {
	return runID + "_" + taskID
}
