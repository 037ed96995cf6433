package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"security-rule-reconciler/internal/params"
)

const sshTask = `rule_name: SSH permit
destination_ip: ["1.1.1.1"]
application: ["ssh"]
action: allow
audit_comment: CHG-100
commit: true
`

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	if cmd == nil {
		t.Fatal("newRootCmd returned nil")
	}
	if cmd.Use != "security-rule-reconciler" {
		t.Errorf("Expected use 'security-rule-reconciler', got '%s'", cmd.Use)
	}
	for _, name := range []string{"apply", "init", "rules"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("Expected subcommand %q", name)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR", "UNKNOWN"}
	for _, lvl := range levels {
		if l := setupLogger(lvl, ""); l == nil {
			t.Errorf("setupLogger returned nil for level %s", lvl)
		}
	}

	logFile := filepath.Join(t.TempDir(), "test.log")
	if l := setupLogger("INFO", logFile); l == nil {
		t.Error("setupLogger with file returned nil")
	}
	if l := setupLogger("INFO", "/nonexistent/path/to/log.log"); l == nil {
		t.Error("setupLogger should return a logger even if file fails")
	}
}

func TestOpenDeviceErrors(t *testing.T) {
	cases := []struct {
		kind, conn string
	}{
		{"sqlite", ""},
		{"setfile", ""},
		{"mariadb", ""},
		{"junos", "x"},
	}
	for _, c := range cases {
		if _, err := openDevice(c.kind, c.conn, nil); err == nil {
			t.Errorf("openDevice(%q, %q) should fail", c.kind, c.conn)
		}
	}
}

func execute(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append(args, "--log-file", filepath.Join(t.TempDir(), "run.log")))
	err := cmd.Execute()

	var res map[string]any
	if jerr := json.Unmarshal(out.Bytes(), &res); jerr != nil {
		t.Fatalf("output is not JSON: %v\n%s", jerr, out.String())
	}
	return res, err
}

func TestApplyAgainstSetFile(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "fw.conf")
	task := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(task, []byte(sshTask), 0644); err != nil {
		t.Fatal(err)
	}
	metricsPath := filepath.Join(dir, "reconciler.prom")

	if _, err := execute(t, "init", "--provider", "setfile", "--db", conf, "--vsys", "vsys1"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	res, err := execute(t, "--provider", "setfile", "--db", conf, "--task", task, "--metrics-file", metricsPath)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if res["changed"] != true || res["msg"] != "Done" {
		t.Errorf("unexpected result: %v", res)
	}
	diff, _ := res["diff"].(map[string]any)
	if after, _ := diff["after"].(string); !strings.Contains(after, "name: SSH permit") {
		t.Errorf("diff does not describe the new rule: %v", diff)
	}

	saved, err := os.ReadFile(conf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(saved), `edit "SSH permit"`) || !strings.Contains(string(saved), "CHG-100") {
		t.Errorf("set-config was not updated:\n%s", saved)
	}
	if _, err := os.Stat(metricsPath); err != nil {
		t.Errorf("metrics file not written: %v", err)
	}

	res, err = execute(t, "apply", "--provider", "setfile", "--db", conf, "--task", task)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if res["changed"] != false {
		t.Errorf("second apply should not change anything: %v", res)
	}

	res, err = execute(t, "rules", "--provider", "setfile", "--db", conf)
	if err != nil {
		t.Fatalf("rules failed: %v", err)
	}
	if rules, _ := res["rules"].([]any); len(rules) != 1 {
		t.Errorf("expected one rule, got %v", res["rules"])
	}
}

func TestApplyCheckModeWithSQLite(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "device.db")
	task := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(task, []byte(sshTask), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "init", "--db", db); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	res, err := execute(t, "--db", db, "--task", task, "--check")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if res["changed"] != true {
		t.Errorf("check mode should report the pending creation: %v", res)
	}

	res, err = execute(t, "rules", "--db", db)
	if err != nil {
		t.Fatalf("rules failed: %v", err)
	}
	if rules, _ := res["rules"].([]any); len(rules) != 0 {
		t.Errorf("check mode created rules: %v", res["rules"])
	}
}

func TestApplyReportsFailure(t *testing.T) {
	dir := t.TempDir()
	task := filepath.Join(dir, "task.yaml")
	bad := "rule_name: r\ndevice_group: a\ndevicegroup: a\n"
	if err := os.WriteFile(task, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(dir, "device.db")
	if _, err := execute(t, "init", "--db", db); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	res, err := execute(t, "--db", db, "--task", task)
	if err == nil {
		t.Fatal("expected an error")
	}
	if res["failed"] != true {
		t.Errorf("expected failed=true, got %v", res)
	}
	if msg, _ := res["msg"].(string); !strings.Contains(msg, `Both "devicegroup" and "device_group" are specified`) {
		t.Errorf("unexpected message: %q", msg)
	}
	if !strings.Contains(err.Error(), params.ErrInvalidConfig.Error()) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestInvalidTaskIsReportedBeforeConnecting(t *testing.T) {
	dir := t.TempDir()
	task := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(task, []byte("rule_name: r\nlocation: before\n"), 0644); err != nil {
		t.Fatal(err)
	}

	db := filepath.Join(dir, "device.db")
	res, err := execute(t, "--provider", "sqlite", "--db", db, "--task", task)
	if err == nil || res["failed"] != true {
		t.Fatalf("expected a failure, got %v", res)
	}
	if _, statErr := os.Stat(db); !os.IsNotExist(statErr) {
		t.Errorf("database file was created for an invalid task")
	}

	// nothing listens on port 1; the configuration error must win
	res, err = execute(t, "--provider", "mariadb", "--db", "admin:x@tcp(127.0.0.1:1)/panos", "--task", task)
	if err == nil {
		t.Fatal("expected a failure")
	}
	if !strings.Contains(err.Error(), params.ErrInvalidConfig.Error()) {
		t.Errorf("expected a configuration error, got %v", err)
	}
	if msg, _ := res["msg"].(string); !strings.Contains(msg, "existing_rule") {
		t.Errorf("unexpected message: %q", msg)
	}
}
