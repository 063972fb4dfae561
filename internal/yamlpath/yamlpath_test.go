package yamlpath

import (
	"errors"
	"testing"
)

const described = `
done: true
name: operations/ENq5
metadata:
  createTime: "2016-09-08T21:38:23Z"
  endTime: "2016-09-08T21:45:02Z"
  events:
    - description: start
    - description: ok
  request:
    pipelineArgs:
      projectId: my-project
`

func TestLookup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"metadata.createTime", "2016-09-08T21:38:23Z"},
		{"name", "operations/ENq5"},
		{"done", "true"},
		{"metadata.events.1.description", "ok"},
		{"metadata.request.pipelineArgs", "projectId: my-project"},
	}
	for _, tt := range tests {
		v, err := Lookup([]byte(described), tt.path)
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		got, err := Format(v)
		if err != nil {
			t.Fatalf("%s: format: %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLookupMissing(t *testing.T) {
	for _, path := range []string{"metadata.startTime", "name.first", "metadata.events.5", "metadata.events.x"} {
		if _, err := Lookup([]byte(described), path); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", path, err)
		}
	}
}

func TestLookupBadYAML(t *testing.T) {
	if _, err := Lookup([]byte("a: [1, 2"), "a"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
