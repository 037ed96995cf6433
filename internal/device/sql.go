package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"security-rule-reconciler/internal/model"
)

// SQLStore keeps rulebases in a relational database: a MariaDB management
// database ("mysql" driver) or a local SQLite file ("sqlite" driver).
// Security rules are stored as JSON documents ordered by position.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	autoIncrement string
}

var dialects = map[string]dialect{
	"mysql":  {autoIncrement: "BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT"},
	"sqlite": {autoIncrement: "INTEGER PRIMARY KEY AUTOINCREMENT"},
}

func Open(driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) schema() []string {
	ai := s.dialect.autoIncrement
	ruleTable := func(name string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s,
		scope_name VARCHAR(64) NOT NULL,
		rulebase VARCHAR(16) NOT NULL,
		position INT NOT NULL,
		rule_name VARCHAR(63) NOT NULL,
		rule_uuid VARCHAR(36) NOT NULL,
		attrs LONGTEXT NOT NULL
	)`, name, ai)
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS device_meta (
		meta_key VARCHAR(64) PRIMARY KEY,
		meta_value VARCHAR(255) NOT NULL
	)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS device_scopes (
		id %s,
		scope_kind VARCHAR(16) NOT NULL,
		scope_name VARCHAR(64) NOT NULL
	)`, ai),
		ruleTable("security_rules"),
		ruleTable("running_security_rules"),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_comments (
		id %s,
		scope_name VARCHAR(64) NOT NULL,
		rulebase VARCHAR(16) NOT NULL,
		rule_name VARCHAR(63) NOT NULL,
		comment_text LONGTEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL
	)`, ai),
		`CREATE TABLE IF NOT EXISTS commit_jobs (
		job_id VARCHAR(36) PRIMARY KEY,
		device_group VARCHAR(64) NOT NULL,
		rule_count INT NOT NULL,
		created_at VARCHAR(40) NOT NULL
	)`,
	}
}

// Bootstrap creates the schema and (re)registers the device type and its
// device groups or vsys. Existing rules are kept.
func (s *SQLStore) Bootstrap(ctx context.Context, info *model.DeviceInfo) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_meta WHERE meta_key IN ('type', 'hostname')"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO device_meta (meta_key, meta_value) VALUES ('type', ?), ('hostname', ?)", string(info.Type), info.Hostname); err != nil {
		return err
	}
	var dirty int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_meta WHERE meta_key = 'dirty'").Scan(&dirty); err != nil {
		return err
	}
	if dirty == 0 {
		if _, err := tx.ExecContext(ctx, "INSERT INTO device_meta (meta_key, meta_value) VALUES ('dirty', '0')"); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_scopes"); err != nil {
		return err
	}
	scopes := map[string][]string{"device_group": info.DeviceGroups, "vsys": info.Vsys}
	for kind, names := range scopes {
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, "INSERT INTO device_scopes (scope_kind, scope_name) VALUES (?, ?)", kind, name); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Info(ctx context.Context) (*model.DeviceInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT meta_key, meta_value FROM device_meta")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBootstrapped, err)
	}
	defer rows.Close()

	info := &model.DeviceInfo{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case "type":
			info.Type = model.DeviceType(value)
		case "hostname":
			info.Hostname = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// release the connection; sqlite runs with a single one
	rows.Close()
	if info.Type == "" {
		return nil, ErrNotBootstrapped
	}

	scopeRows, err := s.db.QueryContext(ctx, "SELECT scope_kind, scope_name FROM device_scopes ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer scopeRows.Close()
	for scopeRows.Next() {
		var kind, name string
		if err := scopeRows.Scan(&kind, &name); err != nil {
			return nil, err
		}
		switch kind {
		case "device_group":
			info.DeviceGroups = append(info.DeviceGroups, name)
		case "vsys":
			info.Vsys = append(info.Vsys, name)
		}
	}
	return info, scopeRows.Err()
}

func (s *SQLStore) Rules(ctx context.Context, scope model.Scope) ([]model.SecurityRule, error) {
	return s.loadRules(ctx, "security_rules", scope)
}

// RunningRules returns the committed copy of a rulebase.
func (s *SQLStore) RunningRules(ctx context.Context, scope model.Scope) ([]model.SecurityRule, error) {
	return s.loadRules(ctx, "running_security_rules", scope)
}

func (s *SQLStore) loadRules(ctx context.Context, table string, scope model.Scope) ([]model.SecurityRule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT rule_name, rule_uuid, attrs FROM "+table+" WHERE scope_name = ? AND rulebase = ? ORDER BY position ASC",
		scope.Location, scope.Rulebase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.SecurityRule
	for rows.Next() {
		var name, ruleUUID, attrs string
		if err := rows.Scan(&name, &ruleUUID, &attrs); err != nil {
			return nil, err
		}
		var rule model.SecurityRule
		if err := json.Unmarshal([]byte(attrs), &rule); err != nil {
			return nil, fmt.Errorf("rule %s: failed to decode attributes: %w", name, err)
		}
		rule.Name = name
		rule.UUID = ruleUUID
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *SQLStore) CreateRule(ctx context.Context, scope model.Scope, rule *model.SecurityRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exists, err := ruleExists(ctx, tx, scope, rule.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.Name)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position), -1) + 1 FROM security_rules WHERE scope_name = ? AND rulebase = ?",
		scope.Location, scope.Rulebase).Scan(&next); err != nil {
		return err
	}

	if rule.UUID == "" {
		rule.UUID = uuid.NewString()
	}
	attrs, err := encodeAttrs(rule)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO security_rules (scope_name, rulebase, position, rule_name, rule_uuid, attrs) VALUES (?, ?, ?, ?, ?, ?)",
		scope.Location, scope.Rulebase, next, rule.Name, rule.UUID, attrs); err != nil {
		return err
	}
	if err := markDirty(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateRule(ctx context.Context, scope model.Scope, rule *model.SecurityRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT rule_uuid FROM security_rules WHERE scope_name = ? AND rulebase = ? AND rule_name = ?",
		scope.Location, scope.Rulebase, rule.Name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.Name)
	}
	if err != nil {
		return err
	}
	if rule.UUID == "" {
		rule.UUID = current
	}

	attrs, err := encodeAttrs(rule)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE security_rules SET rule_uuid = ?, attrs = ? WHERE scope_name = ? AND rulebase = ? AND rule_name = ?",
		rule.UUID, attrs, scope.Location, scope.Rulebase, rule.Name); err != nil {
		return err
	}
	if err := markDirty(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) DeleteRule(ctx context.Context, scope model.Scope, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM security_rules WHERE scope_name = ? AND rulebase = ? AND rule_name = ?",
		scope.Location, scope.Rulebase, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	if err := markDirty(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) MoveRule(ctx context.Context, scope model.Scope, name string, where model.Location, ref string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT rule_name FROM security_rules WHERE scope_name = ? AND rulebase = ? ORDER BY position ASC",
		scope.Location, scope.Rulebase)
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	ordered, err := reorder(names, name, where, ref)
	if err != nil {
		return err
	}
	for pos, n := range ordered {
		if _, err := tx.ExecContext(ctx,
			"UPDATE security_rules SET position = ? WHERE scope_name = ? AND rulebase = ? AND rule_name = ?",
			pos, scope.Location, scope.Rulebase, n); err != nil {
			return err
		}
	}
	if err := markDirty(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) SetAuditComment(ctx context.Context, scope model.Scope, name, comment string) error {
	exists, err := ruleExists(ctx, s.db, scope, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO audit_comments (scope_name, rulebase, rule_name, comment_text, created_at) VALUES (?, ?, ?, ?, ?)",
		scope.Location, scope.Rulebase, name, comment, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLStore) AuditComments(ctx context.Context, scope model.Scope, name string) ([]model.AuditComment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT comment_text, created_at FROM audit_comments WHERE scope_name = ? AND rulebase = ? AND rule_name = ? ORDER BY id ASC",
		scope.Location, scope.Rulebase, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []model.AuditComment
	for rows.Next() {
		c := model.AuditComment{RuleName: name}
		if err := rows.Scan(&c.Comment, &c.Time); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *SQLStore) Commit(ctx context.Context, deviceGroup string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var dirty string
	if err := tx.QueryRowContext(ctx, "SELECT meta_value FROM device_meta WHERE meta_key = 'dirty'").Scan(&dirty); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotBootstrapped, err)
	}
	if dirty != "1" {
		return "", ErrNothingToCommit
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM running_security_rules"); err != nil {
		return "", err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO running_security_rules (scope_name, rulebase, position, rule_name, rule_uuid, attrs)
		SELECT scope_name, rulebase, position, rule_name, rule_uuid, attrs FROM security_rules`)
	if err != nil {
		return "", err
	}
	count, _ := res.RowsAffected()

	jobID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO commit_jobs (job_id, device_group, rule_count, created_at) VALUES (?, ?, ?, ?)",
		jobID, deviceGroup, count, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE device_meta SET meta_value = '0' WHERE meta_key = 'dirty'"); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return jobID, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ruleExists(ctx context.Context, q querier, scope model.Scope, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM security_rules WHERE scope_name = ? AND rulebase = ? AND rule_name = ?",
		scope.Location, scope.Rulebase, name).Scan(&n)
	return n > 0, err
}

func markDirty(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "UPDATE device_meta SET meta_value = '1' WHERE meta_key = 'dirty'")
	return err
}

func encodeAttrs(rule *model.SecurityRule) (string, error) {
	stored := *rule
	stored.UUID = ""
	b, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("rule %s: failed to encode attributes: %w", rule.Name, err)
	}
	return string(b), nil
}
