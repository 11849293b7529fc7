package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { globalFlags.service = "tally" })

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateList(t *testing.T) {
	for _, svc := range []string{"tally", "credential"} {
		t.Run(svc, func(t *testing.T) {
			out, err := runCommand(t, "--service", svc, "migrate", "list")
			if err != nil {
				t.Fatalf("migrate list: %v", err)
			}
			if !strings.Contains(out, "000001_init.up.sql") || !strings.Contains(out, "000001_init.down.sql") {
				t.Errorf("вывод = %q", out)
			}
		})
	}
}

func TestUnknownService(t *testing.T) {
	_, err := runCommand(t, "--service", "ballot", "migrate", "list")
	if err == nil || !strings.Contains(err.Error(), "--service") {
		t.Fatalf("ожидалась ошибка флага --service, получено %v", err)
	}
}

func TestMigrateUp_ConfigRequired(t *testing.T) {
	t.Setenv("TS_DB_HOST", "")
	_, err := runCommand(t, "migrate", "up")
	if err == nil || !strings.Contains(err.Error(), "TS_DB_HOST") {
		t.Fatalf("ожидалась ошибка конфигурации TS_DB_HOST, получено %v", err)
	}
}
