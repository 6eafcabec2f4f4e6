package jobtemplate

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTemplate = `
apiVersion: batch/v1
kind: Job
metadata:
  name: placeholder
  labels:
    app: cds
spec:
  template:
    spec:
      restartPolicy: Never
      containers:
        - name: cds-run
          image: example.com/cds-run:latest
          command: ["/bin/true"]
`

func writeTemplate(t *testing.T, dir string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "cdsjob.yaml"), []byte(sampleTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return dir
}

func TestLoadAndBuild(t *testing.T) {
	dir := writeTemplate(t, t.TempDir())

	tpl, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	job, err := tpl.Build("cds-somefile-ab12", []string{"/usr/local/bin/cds_run.pl", "--input-inmeta", "/data/somefile.inmeta", "--route", "route.xml"}, map[string]string{
		"online-id": "123",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if job.Name != "cds-somefile-ab12" {
		t.Fatalf("got name %q", job.Name)
	}
	if got := job.Spec.Template.Spec.Containers[0].Command; len(got) != 5 || got[1] != "--input-inmeta" {
		t.Fatalf("unexpected command: %v", got)
	}
	if job.Labels["app"] != "cds" || job.Labels["online-id"] != "123" {
		t.Fatalf("unexpected labels: %v", job.Labels)
	}
}

func TestBuildDoesNotMutateTemplate(t *testing.T) {
	dir := writeTemplate(t, t.TempDir())
	tpl, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := tpl.Build("cds-first", []string{"a"}, map[string]string{"x": "1"}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := tpl.Build("cds-second", []string{"b"}, map[string]string{"y": "2"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if second.Name != "cds-second" {
		t.Fatalf("got %q", second.Name)
	}
	if _, ok := second.Labels["x"]; ok {
		t.Fatal("labels from the first Build leaked into the template and then into the second Build")
	}
}

func TestLoadMissingTemplate(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected an error when no template file exists anywhere")
	}
}
