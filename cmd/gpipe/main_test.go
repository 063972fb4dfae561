package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/3cpo-dev/gpipe/internal/core"
	"github.com/3cpo-dev/gpipe/pkg/api"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// isolate points config lookup at a temp dir and returns a config path.
func isolate(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("GPIPE_TOKEN", "test-token")
	t.Setenv("GPIPE_PROJECT", "")
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("project: my-project\nstore:\n  path: %s\n%s", filepath.Join(dir, "ops.db"), extra)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "gpipe ") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := execute(t, "", "--format", "xml", "version"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestZonesCommand(t *testing.T) {
	cfg := isolate(t, "")
	out, err := execute(t, "", "--config", cfg, "--format", "json", "zones", "us-east1-*", "europe-west1-b")
	if err != nil {
		t.Fatalf("zones: %v", err)
	}
	var got []string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	want := []string{"us-east1-b", "us-east1-c", "us-east1-d", "europe-west1-b"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := execute(t, "", "--config", cfg, "zones", "us-*-a"); err == nil {
		t.Fatalf("expected error for misplaced wildcard")
	}
}

func TestRunDryRun(t *testing.T) {
	cfg := isolate(t, "")
	out, err := execute(t, "", "--config", cfg, "run", "fastqc", "--dry-run",
		"--zones", "us-central1-*", "--disk-size", "50",
		"--input", "gs://b/1.bam,gs://b/2.bam,gs://b/3.bam", "--batch-size", "2",
		"--output", "gs://b/out/", "--logging", "gs://b/logs")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var reqs []api.RunPipelineRequest
	if err := json.Unmarshal([]byte(out), &reqs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 batched requests, got %d", len(reqs))
	}
	args := reqs[0].PipelineArgs
	if args.Labels[runLabel] == "" || args.Labels[runLabel] != reqs[1].PipelineArgs.Labels[runLabel] {
		t.Fatalf("batches must share a run label: %v %v", args.Labels, reqs[1].PipelineArgs.Labels)
	}
	if len(args.Resources.Zones) != 4 || args.Resources.Zones[0] != "us-central1-a" {
		t.Fatalf("unexpected zones %v", args.Resources.Zones)
	}
}

// withoutCredentials makes any attempt to resolve credentials fail.
func withoutCredentials(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GPIPE_TOKEN", "")
	t.Setenv("HOME", dir)
	t.Setenv("CLOUDSDK_CONFIG", dir)
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(dir, "missing.json"))
}

func TestDryRunWithoutCredentials(t *testing.T) {
	cfg := isolate(t, "")
	withoutCredentials(t)

	out, err := execute(t, "", "--config", cfg, "run", "compress", "--dry-run",
		"--zones", "us-west1-b", "--disk-size", "10",
		"--input", "gs://b/a.gz", "--output", "gs://b/out/", "--logging", "gs://b/logs")
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	var reqs []api.RunPipelineRequest
	if err := json.Unmarshal([]byte(out), &reqs); err != nil || len(reqs) != 1 {
		t.Fatalf("decode %q: %v", out, err)
	}

	out, err = execute(t, "", "--config", cfg, "samtools-create", "--dry-run")
	if err != nil {
		t.Fatalf("samtools-create --dry-run: %v", err)
	}
	if !strings.Contains(out, "samtools") {
		t.Fatalf("unexpected pipeline definition %q", out)
	}
}

func TestOpsGetLocal(t *testing.T) {
	cfg := isolate(t, "")
	withoutCredentials(t)

	store, err := core.NewStore(filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "ops.db"))
	if err != nil {
		t.Fatal(err)
	}
	op := &api.Operation{
		Name:     "operations/local-1",
		Metadata: json.RawMessage(`{"request":{"pipelineArgs":{"projectId":"p1"}}}`),
	}
	if err := store.RecordSubmission(context.Background(), op, "run-1", "fastqc", "my-project"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	out, err := execute(t, "", "--config", cfg, "--format", "yaml", "ops", "get", "--local", "operations/local-1")
	if err != nil {
		t.Fatalf("ops get --local: %v", err)
	}
	if !strings.Contains(out, "name: operations/local-1") || !strings.Contains(out, "projectId: p1") {
		t.Fatalf("snapshot not rendered:\n%s", out)
	}

	_, err = execute(t, "", "--config", cfg, "ops", "get", "--local", "operations/unknown")
	if !errors.Is(err, core.ErrOperationNotFound) || exitCode(err) != 1 {
		t.Fatalf("expected not-found exit 1, got %v", err)
	}
}

func TestRunSubmitsAndRecords(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1alpha2/pipelines:run":
			fmt.Fprint(w, `{"name":"operations/op-1","done":false}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1alpha2/operations/op-1":
			atomic.AddInt32(&gets, 1)
			fmt.Fprint(w, `{"name":"operations/op-1","done":true,"response":{"files":["gs://b/out/a.txt","local"]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	cfg := isolate(t, fmt.Sprintf("api:\n  endpoint: %s\n", srv.URL))

	out, err := execute(t, "", "--config", cfg, "run", "compress", "--operation", "gunzip",
		"--disk-size", "10", "--zones", "us-west1-b",
		"--input", "gs://b/a.gz", "--output", "gs://b/out/", "--logging", "gs://b/logs")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "operations/op-1") {
		t.Fatalf("operation not printed: %s", out)
	}

	out, err = execute(t, "", "--config", cfg, "ops", "outputs", "operations/op-1", "--prefix", "gs://b/out/")
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if strings.TrimSpace(out) != "gs://b/out/a.txt" {
		t.Fatalf("unexpected outputs %q", out)
	}

	out, err = execute(t, "", "--config", cfg, "--format", "json", "ops", "ls")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	var rows []core.StoredOperation
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0].Sample != "compress" || !rows[0].Done {
		t.Fatalf("unexpected history %+v", rows)
	}
	if gets != 1 {
		t.Fatalf("expected one status query, got %d", gets)
	}
}

func TestYAMLValue(t *testing.T) {
	doc := "metadata:\n  labels:\n    - gpipe-run\n  createTime: 2017-01-01\n"
	out, err := execute(t, doc, "tools", "yaml-value", "-", "metadata.labels.0")
	if err != nil {
		t.Fatalf("yaml-value: %v", err)
	}
	if strings.TrimSpace(out) != "gpipe-run" {
		t.Fatalf("unexpected value %q", out)
	}

	_, err = execute(t, doc, "tools", "yaml-value", "-", "metadata.missing")
	if err == nil || exitCode(err) != 1 {
		t.Fatalf("expected exit 1 for a missing field, got %v", err)
	}

	out, err = execute(t, "", "tools", "yaml-value", doc, "metadata.labels.0")
	if err != nil || strings.TrimSpace(out) != "gpipe-run" {
		t.Fatalf("inline document: %q (%v)", out, err)
	}

	path := filepath.Join(t.TempDir(), "op.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "", "tools", "yaml-value", path, "metadata.createTime")
	if err != nil || strings.TrimSpace(out) != "2017-01-01" {
		t.Fatalf("file document: %q (%v)", out, err)
	}
}

func TestSetVCFSampleIDTool(t *testing.T) {
	in := "##fileformat=VCFv4.1\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tOLD\n1\t10\t.\tA\tT\t.\t.\t.\tGT\t0/1\n"
	out, err := execute(t, in, "tools", "set-vcf-sample-id", "OLD", "NEW")
	if err != nil {
		t.Fatalf("set-vcf-sample-id: %v", err)
	}
	if !strings.Contains(out, "\tFORMAT\tNEW\n") || strings.Contains(out, "OLD") {
		t.Fatalf("header not rewritten:\n%s", out)
	}

	if _, err := execute(t, in, "tools", "set-vcf-sample-id", "OTHER", "NEW"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestSetVCFSampleIDToFile(t *testing.T) {
	in := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tOLD\n"
	path := filepath.Join(t.TempDir(), "out.vcf")
	out, err := execute(t, in, "tools", "set-vcf-sample-id", "--output", path, "OLD", "NEW")
	if err != nil {
		t.Fatalf("set-vcf-sample-id: %v", err)
	}
	if out != "" {
		t.Fatalf("expected nothing on stdout, got %q", out)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != strings.Replace(in, "OLD", "NEW", 1) {
		t.Fatalf("unexpected file contents %q", got)
	}

	missing := filepath.Join(t.TempDir(), "no-such-dir", "out.vcf")
	if _, err := execute(t, in, "tools", "set-vcf-sample-id", "--output", missing, "OLD", "NEW"); err == nil {
		t.Fatalf("expected error for an unwritable output")
	}
}

func TestDiffTool(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	_ = os.WriteFile(a, []byte("x\ny\nz\n"), 0o600)
	_ = os.WriteFile(b, []byte("x\nY\n"), 0o600)
	out, err := execute(t, "", "tools", "diff", a, b)
	if exitCode(err) != 1 {
		t.Fatalf("expected exit 1, got %v", err)
	}
	if strings.TrimSpace(out) != "2" {
		t.Fatalf("expected 2 differences, got %q", out)
	}
}
