package graph

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// SchemaVersion marks the applied migration set
const SchemaVersion = "bimoi_schema_v1"

type migration struct {
	name        string
	description string
	query       string
}

var migrations = []migration{
	{
		name:        "Create Constraints",
		description: "Unique ids for people, identity bindings and pending cards",
		query: `
			// Accounts and contacts share the Person id space
			CREATE CONSTRAINT person_id_unique IF NOT EXISTS FOR (p:Person) REQUIRE p.id IS UNIQUE;

			// One account per (channel, external id)
			CREATE CONSTRAINT channel_identity_unique IF NOT EXISTS
				FOR (i:ChannelIdentity) REQUIRE (i.channel, i.external_id) IS UNIQUE;

			// At most one pending card per conversation
			CREATE CONSTRAINT pending_key_unique IF NOT EXISTS
				FOR (pc:PendingCreation) REQUIRE (pc.account_id, pc.conversation_key) IS UNIQUE;
		`,
	},
	{
		name:        "Create Indexes",
		description: "Lookups used by promotion and the pending reaper",
		query: `
			CREATE INDEX person_channel_external IF NOT EXISTS FOR (p:Person) ON (p.channel, p.external_id);
			CREATE INDEX pending_received_at IF NOT EXISTS FOR (pc:PendingCreation) ON (pc.received_at);
		`,
	},
}

// EnsureSchema applies the constraints and indexes the repository relies on.
// Statements are idempotent; unless force is set a recorded version is
// treated as already applied.
func (r *Repository) EnsureSchema(ctx context.Context, force bool) error {
	if !force {
		applied, err := r.schemaApplied(ctx)
		if err != nil {
			return err
		}
		if applied {
			r.logger.Debug("Schema already applied", zap.String("version", SchemaVersion))
			return nil
		}
	}

	_, err := r.guard.Do(ctx, "ensure_schema", func(ctx context.Context) (interface{}, error) {
		session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: r.database})
		defer session.Close(ctx)

		for i, m := range migrations {
			r.logger.Info("Running migration",
				zap.Int("step", i+1),
				zap.Int("total", len(migrations)),
				zap.String("name", m.name),
				zap.String("description", m.description))

			// schema statements run outside managed transactions
			for _, stmt := range splitStatements(m.query) {
				if _, err := session.Run(ctx, stmt, nil); err != nil {
					return nil, err
				}
			}
		}

		_, err := session.Run(ctx, `
			MERGE (m:Migration {version: $version})
			SET m.applied_at = datetime()
		`, map[string]any{"version": SchemaVersion})
		return nil, err
	})
	return err
}

func (r *Repository) schemaApplied(ctx context.Context) (bool, error) {
	res, err := r.read(ctx, "check_schema", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (m:Migration {version: $version}) RETURN m.applied_at AS applied_at`,
			map[string]any{"version": SchemaVersion})
		if err != nil {
			return false, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return false, err
		}
		return len(records) > 0, nil
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// splitStatements splits a Cypher script into individual statements,
// dropping // and /* */ comments.
func splitStatements(script string) []string {
	lines := strings.Split(removeBlockComments(script), "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			lines[i] = line[:idx]
		}
	}

	var statements []string
	for _, part := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func removeBlockComments(text string) string {
	for {
		start := strings.Index(text, "/*")
		if start < 0 {
			return text
		}
		end := strings.Index(text[start+2:], "*/")
		if end < 0 {
			return text[:start]
		}
		text = text[:start] + text[start+2+end+2:]
	}
}

// Reset deletes every node this repository owns. The schema is kept.
func (r *Repository) Reset(ctx context.Context) (int, error) {
	res, err := r.write(ctx, "reset", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Person OR n:ChannelIdentity OR n:PendingCreation
			DETACH DELETE n
			RETURN count(*) AS deleted
		`, nil)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return int(getInt64FromRecord(record, "deleted")), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}
