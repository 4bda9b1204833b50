package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseConstraintFlags(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want map[string]string
	}{
		{name: "empty", raw: nil, want: nil},
		{
			name: "key value pairs",
			raw:  []string{"toxicity=no chlorinated components", "cost=low"},
			want: map[string]string{"toxicity": "no chlorinated components", "cost": "low"},
		},
		{
			name: "bare value gets ordinal key",
			raw:  []string{"must be biodegradable"},
			want: map[string]string{"requirement_1": "must be biodegradable"},
		},
		{
			name: "whitespace trimmed",
			raw:  []string{" viscosity = below 200 cP "},
			want: map[string]string{"viscosity": "below 200 cP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseConstraintFlags(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d constraints, want %d", len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("constraint[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestLoadTaskFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "tasks.yaml")
		content := `tasks:
  - description: Dissolve lignin at moderate temperature
    target_material: lignin
  - description: Dissolve cellulose below 60C
    target_material: cellulose
    target_temperature: 60
    constraints:
      toxicity: no chlorinated components
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		tasks, err := loadTaskFile(path)
		if err != nil {
			t.Fatalf("loadTaskFile: %v", err)
		}
		if len(tasks) != 2 {
			t.Fatalf("got %d tasks, want 2", len(tasks))
		}
		if tasks[0].TargetMaterial != "lignin" {
			t.Errorf("task 0 material = %q, want lignin", tasks[0].TargetMaterial)
		}
		if tasks[1].TargetTemperature != 60 {
			t.Errorf("task 1 temperature = %v, want 60", tasks[1].TargetTemperature)
		}
		if tasks[1].Constraints["toxicity"] != "no chlorinated components" {
			t.Errorf("task 1 constraints = %v", tasks[1].Constraints)
		}
	})

	t.Run("empty task list", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(path, []byte("tasks: []\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := loadTaskFile(path); err == nil {
			t.Error("expected error for empty task list")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := loadTaskFile(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("tasks: [\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := loadTaskFile(path); err == nil {
			t.Error("expected error for malformed yaml")
		}
	})
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("a much longer string", 10); got != "a much ..." {
		t.Errorf("truncate long = %q", got)
	}
	if len(truncate("a much longer string", 10)) != 10 {
		t.Error("truncated string exceeds limit")
	}
}
