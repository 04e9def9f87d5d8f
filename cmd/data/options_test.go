package data

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/oKV/lib/router"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/spf13/cobra"
)

func TestDecodePayload(t *testing.T) {
	t.Run("Object", func(t *testing.T) {
		p, err := decodePayload([]byte(` {"id": 7, "title": "milk"}`))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if p.Kind() != store.PayloadSingle {
			t.Errorf("Expected single payload, got %s", p.Kind())
		}
		if id, _ := p.Record().ID("id"); id != "7" {
			t.Errorf("Expected id 7, got %q", id)
		}
	})

	t.Run("Array", func(t *testing.T) {
		p, err := decodePayload([]byte("\n[{\"id\":1},{\"id\":2}]"))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if p.Kind() != store.PayloadCollection || len(p.Records()) != 2 {
			t.Errorf("Expected collection of 2 records, got %s with %d", p.Kind(), len(p.Records()))
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		if _, err := decodePayload([]byte(`{"id":`)); err == nil {
			t.Error("Expected error for truncated JSON")
		}
	})
}

func TestReadInput(t *testing.T) {
	cmd := &cobra.Command{}

	t.Run("Literal", func(t *testing.T) {
		data, err := readInput(cmd, `{"a":1}`)
		if err != nil || string(data) != `{"a":1}` {
			t.Errorf("Expected literal argument, got %q (%v)", data, err)
		}
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "record.json")
		if err := os.WriteFile(path, []byte(`{"a":2}`), 0o644); err != nil {
			t.Fatal(err)
		}
		data, err := readInput(cmd, "@"+path)
		if err != nil || string(data) != `{"a":2}` {
			t.Errorf("Expected file contents, got %q (%v)", data, err)
		}
	})

	t.Run("Stdin", func(t *testing.T) {
		cmd.SetIn(strings.NewReader(`[{"a":3}]`))
		data, err := readInput(cmd, "-")
		if err != nil || string(data) != `[{"a":3}]` {
			t.Errorf("Expected stdin contents, got %q (%v)", data, err)
		}
	})
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"album=pets", "note=a=b"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fields["album"] != "pets" || fields["note"] != "a=b" {
		t.Errorf("Expected album=pets and note=a=b, got %v", fields)
	}

	if _, err := parseFields([]string{"novalue"}); err == nil {
		t.Error("Expected error for field without '='")
	}
	if fields, _ := parseFields(nil); fields != nil {
		t.Errorf("Expected nil fields, got %v", fields)
	}
}

func TestQueryFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringArray("where", nil, "")
	cmd.Flags().String("sort-by", "", "")
	cmd.Flags().Bool("desc", false, "")
	cmd.Flags().Int("limit", 0, "")

	if err := cmd.Flags().Parse([]string{"--where", "done=false", "--where", "prio>=2", "--sort-by", "prio", "--desc", "--limit", "5"}); err != nil {
		t.Fatal(err)
	}

	query, err := queryFromFlags(cmd)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(query.Conditions) != 2 {
		t.Fatalf("Expected 2 conditions, got %d", len(query.Conditions))
	}
	if query.Conditions[1].Op != store.OpGte || query.Conditions[1].Field != "prio" {
		t.Errorf("Expected prio gte condition, got %+v", query.Conditions[1])
	}
	if query.SortBy != "prio" || !query.Desc || query.Limit != 5 {
		t.Errorf("Expected sort by prio desc limit 5, got %+v", query)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	res := router.Result{
		Payload:     store.Single(store.Record{"id": "1"}),
		Source:      router.SourceQueue,
		Decision:    router.DecisionQueued,
		Queued:      true,
		OperationID: "op-1",
	}
	if err := printResult(&buf, res); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var view map[string]any
	if err := json.Unmarshal(buf.Bytes(), &view); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	if view["decision"] != "Queued" || view["source"] != "queue" || view["operationId"] != "op-1" {
		t.Errorf("Unexpected view: %v", view)
	}
	if _, ok := view["error"]; ok {
		t.Error("Expected no error field")
	}
}
