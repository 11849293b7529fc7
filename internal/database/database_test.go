package database

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/bigkaa/govote/internal/config"
	"github.com/bigkaa/govote/internal/domain/model"
)

// TestMigrationFiles — у каждого сервиса есть парные up/down миграции.
func TestMigrationFiles(t *testing.T) {
	for _, svc := range []config.Service{config.ServiceTally, config.ServiceCredential} {
		files, err := MigrationFiles(svc)
		if err != nil {
			t.Fatalf("MigrationFiles(%s): %v", svc, err)
		}
		if len(files) == 0 {
			t.Fatalf("MigrationFiles(%s): нет файлов", svc)
		}

		ups := map[string]bool{}
		downs := map[string]bool{}
		for _, f := range files {
			switch {
			case strings.HasSuffix(f, ".up.sql"):
				ups[strings.TrimSuffix(f, ".up.sql")] = true
			case strings.HasSuffix(f, ".down.sql"):
				downs[strings.TrimSuffix(f, ".down.sql")] = true
			default:
				t.Errorf("%s: неожиданный файл %s", svc, f)
			}
		}
		for name := range ups {
			if !downs[name] {
				t.Errorf("%s: нет down-миграции для %s", svc, name)
			}
		}
	}
}

// TestMigrations_TallyHasNoMemberIdentity — таблица анонимных credentials
// не должна содержать идентичность участника.
func TestMigrations_TallyHasNoMemberIdentity(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/tally/000001_init.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	sql := string(data)

	start := strings.Index(sql, "CREATE TABLE voting_tokens")
	if start < 0 {
		t.Fatal("не найдено определение voting_tokens")
	}
	end := strings.Index(sql[start:], ");")
	if end < 0 {
		t.Fatal("не найден конец определения voting_tokens")
	}
	table := sql[start : start+end]
	if strings.Contains(table, "member_id") {
		t.Errorf("voting_tokens содержит member_id")
	}
}

func TestMigrationsDir_Unknown(t *testing.T) {
	if _, err := migrationsDir(config.Service("query-module")); err == nil {
		t.Error("ожидалась ошибка для неизвестного сервиса")
	}
}

// TestMigrations_AuditColumnWidths — пределы длины в коде совпадают
// с шириной колонок audit_log, иначе запись аудита отвергается БД.
func TestMigrations_AuditColumnWidths(t *testing.T) {
	columns := []struct {
		name string
		want int
	}{
		{"actor_id", model.MaxActorIDLength},
		{"correlation_id", model.MaxCorrelationIDLength},
	}
	for _, svc := range []config.Service{config.ServiceTally, config.ServiceCredential} {
		dir, err := migrationsDir(svc)
		if err != nil {
			t.Fatal(err)
		}
		data, err := migrationsFS.ReadFile(dir + "/000001_init.up.sql")
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range columns {
			re := regexp.MustCompile(`(?m)^\s*` + c.name + `\s+VARCHAR\((\d+)\)`)
			m := re.FindStringSubmatch(string(data))
			if m == nil {
				t.Errorf("%s: колонка %s не найдена", svc, c.name)
				continue
			}
			if got, _ := strconv.Atoi(m[1]); got != c.want {
				t.Errorf("%s: %s VARCHAR(%d), в коде предел %d", svc, c.name, got, c.want)
			}
		}
	}
}
