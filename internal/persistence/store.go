// Package persistence implements the snapshot/restore store of SPEC_FULL
// §4.12: roles, agents, parent/child edges, conversations, the
// task->workspace map, and each agent's pending inbox, written to a SQLite
// database rather than flat files so the domain stack's database driver is
// exercised directly.
//
// Grounded on the teacher's internal/artifacts/sql_repository.go (prepared
// statement idiom, schema-per-concern table layout, *slog.Logger wiring);
// the full-snapshot-then-replace approach (rather than incremental
// row-level upserts) is new, since SPEC_FULL only requires the on-disk
// state to round-trip losslessly at the granularity of a whole snapshot.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentmesh/runtime/pkg/models"
)

// schema is applied as separate Exec calls (not one multi-statement
// string), matching the teacher's internal/memory/backend/sqlitevec
// migration idiom.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		role_id        TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		prompt         TEXT NOT NULL,
		tool_groups    TEXT NOT NULL,
		llm_service_id TEXT NOT NULL,
		created_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		agent_id         TEXT PRIMARY KEY,
		role_id          TEXT NOT NULL,
		role_name        TEXT NOT NULL,
		custom_name      TEXT NOT NULL,
		parent_agent_id  TEXT NOT NULL,
		created_at       TEXT NOT NULL,
		last_activity_at TEXT NOT NULL,
		status           TEXT NOT NULL,
		task_brief       TEXT NOT NULL,
		task_id          TEXT NOT NULL,
		trace_id         TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		agent_id     TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		tool_calls   TEXT NOT NULL,
		tool_call_id TEXT NOT NULL,
		tool_error   TEXT NOT NULL,
		PRIMARY KEY (agent_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		task_id TEXT PRIMARY KEY,
		path    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inbox_messages (
		agent_id TEXT NOT NULL,
		seq      INTEGER NOT NULL,
		message  TEXT NOT NULL,
		PRIMARY KEY (agent_id, seq)
	)`,
}

// Snapshot is the full round-trippable state captured by one Snapshot call
// and restored wholesale by Restore.
type Snapshot struct {
	Roles         []*models.Role
	Agents        []*models.Agent
	Conversations map[string][]models.Turn
	Workspaces    map[string]string
	Inboxes       map[string][]*models.Message
}

// Store wraps a SQLite database holding exactly one snapshot at a time:
// every Snapshot call replaces the prior contents of every table within a
// single transaction.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes; avoid SQLITE_BUSY under concurrent writers

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot replaces every table's contents with snap, inside one
// transaction, so a reader never observes a partially-written snapshot.
func (s *Store) Snapshot(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	for _, table := range []string{"roles", "agents", "conversation_turns", "workspaces", "inbox_messages"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear table %s: %w", table, err)
		}
	}

	for _, role := range snap.Roles {
		toolGroups, err := json.Marshal(role.ToolGroups)
		if err != nil {
			return fmt.Errorf("marshal role %s tool groups: %w", role.RoleID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO roles (role_id, name, prompt, tool_groups, llm_service_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			role.RoleID, role.Name, role.Prompt, string(toolGroups), role.LLMServiceID, role.CreatedAt.Format(timeLayout),
		); err != nil {
			return fmt.Errorf("insert role %s: %w", role.RoleID, err)
		}
	}

	for _, agent := range snap.Agents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (agent_id, role_id, role_name, custom_name, parent_agent_id, created_at, last_activity_at, status, task_brief, task_id, trace_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			agent.AgentID, agent.RoleID, agent.RoleName, agent.CustomName, agent.ParentAgentID,
			agent.CreatedAt.Format(timeLayout), agent.LastActivityAt.Format(timeLayout), string(agent.Status),
			agent.TaskBrief, agent.TaskID, agent.TraceID,
		); err != nil {
			return fmt.Errorf("insert agent %s: %w", agent.AgentID, err)
		}
	}

	for agentID, turns := range snap.Conversations {
		for seq, turn := range turns {
			content, err := json.Marshal(turn.Content)
			if err != nil {
				return fmt.Errorf("marshal turn content for %s[%d]: %w", agentID, seq, err)
			}
			toolCalls, err := json.Marshal(turn.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls for %s[%d]: %w", agentID, seq, err)
			}
			toolError, err := json.Marshal(turn.ToolError)
			if err != nil {
				return fmt.Errorf("marshal tool error for %s[%d]: %w", agentID, seq, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conversation_turns (agent_id, seq, role, content, tool_calls, tool_call_id, tool_error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				agentID, seq, string(turn.Role), string(content), string(toolCalls), turn.ToolCallID, string(toolError),
			); err != nil {
				return fmt.Errorf("insert turn %s[%d]: %w", agentID, seq, err)
			}
		}
	}

	for taskID, path := range snap.Workspaces {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspaces (task_id, path) VALUES (?, ?)`, taskID, path,
		); err != nil {
			return fmt.Errorf("insert workspace %s: %w", taskID, err)
		}
	}

	for agentID, msgs := range snap.Inboxes {
		for seq, msg := range msgs {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("marshal inbox message %s[%d]: %w", agentID, seq, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO inbox_messages (agent_id, seq, message) VALUES (?, ?, ?)`,
				agentID, seq, string(data),
			); err != nil {
				return fmt.Errorf("insert inbox message %s[%d]: %w", agentID, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot transaction: %w", err)
	}
	s.logger.Info("snapshot written", "roles", len(snap.Roles), "agents", len(snap.Agents))
	return nil
}

// timeLayout is RFC3339Nano, chosen for lossless round-tripping of
// time.Time including sub-second precision.
const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// Restore reads back the most recently written snapshot. Returns (nil,
// nil) if the database has never had a snapshot written to it (the roles
// table is empty and there is no root agent row), signaling the caller to
// start from a clean state rather than an empty-but-present snapshot.
func (s *Store) Restore(ctx context.Context) (*Snapshot, error) {
	var roleCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&roleCount); err != nil {
		return nil, fmt.Errorf("count roles: %w", err)
	}
	if roleCount == 0 {
		return nil, nil
	}

	snap := &Snapshot{
		Conversations: make(map[string][]models.Turn),
		Workspaces:    make(map[string]string),
		Inboxes:       make(map[string][]*models.Message),
	}

	roleRows, err := s.db.QueryContext(ctx, `SELECT role_id, name, prompt, tool_groups, llm_service_id, created_at FROM roles`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	for roleRows.Next() {
		var role models.Role
		var toolGroups, createdAt string
		if err := roleRows.Scan(&role.RoleID, &role.Name, &role.Prompt, &toolGroups, &role.LLMServiceID, &createdAt); err != nil {
			roleRows.Close()
			return nil, fmt.Errorf("scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(toolGroups), &role.ToolGroups); err != nil {
			roleRows.Close()
			return nil, fmt.Errorf("unmarshal role %s tool groups: %w", role.RoleID, err)
		}
		if role.CreatedAt, err = parseTime(createdAt); err != nil {
			roleRows.Close()
			return nil, err
		}
		snap.Roles = append(snap.Roles, &role)
	}
	if err := roleRows.Err(); err != nil {
		roleRows.Close()
		return nil, err
	}
	roleRows.Close()

	agentRows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, role_id, role_name, custom_name, parent_agent_id, created_at, last_activity_at, status, task_brief, task_id, trace_id FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	for agentRows.Next() {
		var agent models.Agent
		var status, createdAt, lastActivityAt string
		if err := agentRows.Scan(&agent.AgentID, &agent.RoleID, &agent.RoleName, &agent.CustomName, &agent.ParentAgentID,
			&createdAt, &lastActivityAt, &status, &agent.TaskBrief, &agent.TaskID, &agent.TraceID); err != nil {
			agentRows.Close()
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agent.Status = models.AgentStatus(status)
		if agent.CreatedAt, err = parseTime(createdAt); err != nil {
			agentRows.Close()
			return nil, err
		}
		if agent.LastActivityAt, err = parseTime(lastActivityAt); err != nil {
			agentRows.Close()
			return nil, err
		}
		snap.Agents = append(snap.Agents, &agent)
	}
	if err := agentRows.Err(); err != nil {
		agentRows.Close()
		return nil, err
	}
	agentRows.Close()

	turnRows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, seq, role, content, tool_calls, tool_call_id, tool_error FROM conversation_turns ORDER BY agent_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("query conversation turns: %w", err)
	}
	for turnRows.Next() {
		var agentID, roleStr, content, toolCalls, toolCallID, toolError string
		var seq int
		if err := turnRows.Scan(&agentID, &seq, &roleStr, &content, &toolCalls, &toolCallID, &toolError); err != nil {
			turnRows.Close()
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		turn := models.Turn{Role: models.TurnRole(roleStr), ToolCallID: toolCallID}
		if err := json.Unmarshal([]byte(content), &turn.Content); err != nil {
			turnRows.Close()
			return nil, fmt.Errorf("unmarshal turn content for %s[%d]: %w", agentID, seq, err)
		}
		if err := json.Unmarshal([]byte(toolCalls), &turn.ToolCalls); err != nil {
			turnRows.Close()
			return nil, fmt.Errorf("unmarshal tool calls for %s[%d]: %w", agentID, seq, err)
		}
		if toolError != "null" {
			if err := json.Unmarshal([]byte(toolError), &turn.ToolError); err != nil {
				turnRows.Close()
				return nil, fmt.Errorf("unmarshal tool error for %s[%d]: %w", agentID, seq, err)
			}
		}
		snap.Conversations[agentID] = append(snap.Conversations[agentID], turn)
	}
	if err := turnRows.Err(); err != nil {
		turnRows.Close()
		return nil, err
	}
	turnRows.Close()

	wsRows, err := s.db.QueryContext(ctx, `SELECT task_id, path FROM workspaces`)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	for wsRows.Next() {
		var taskID, path string
		if err := wsRows.Scan(&taskID, &path); err != nil {
			wsRows.Close()
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		snap.Workspaces[taskID] = path
	}
	if err := wsRows.Err(); err != nil {
		wsRows.Close()
		return nil, err
	}
	wsRows.Close()

	inboxRows, err := s.db.QueryContext(ctx, `SELECT agent_id, seq, message FROM inbox_messages ORDER BY agent_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("query inbox messages: %w", err)
	}
	for inboxRows.Next() {
		var agentID, data string
		var seq int
		if err := inboxRows.Scan(&agentID, &seq, &data); err != nil {
			inboxRows.Close()
			return nil, fmt.Errorf("scan inbox message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			inboxRows.Close()
			return nil, fmt.Errorf("unmarshal inbox message %s[%d]: %w", agentID, seq, err)
		}
		snap.Inboxes[agentID] = append(snap.Inboxes[agentID], &msg)
	}
	if err := inboxRows.Err(); err != nil {
		inboxRows.Close()
		return nil, err
	}
	inboxRows.Close()

	return snap, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
