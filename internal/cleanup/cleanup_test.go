package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/guardian/cds-k8s/internal/logging"
)

func fakeClientsetWithJobAndPod(t *testing.T) *fake.Clientset {
	t.Helper()
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "cds-abc", Namespace: "ns"},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "cds-abc-xyz",
			Namespace: "ns",
			Labels:    map[string]string{"job-name": "cds-abc"},
		},
	}
	return fake.NewSimpleClientset(job, pod)
}

func TestDecodeJobStatus(t *testing.T) {
	msg := decodeJobStatus(map[string]any{
		"job-id":        "u-1",
		"job-name":      "cds-abc",
		"job-namespace": "ns",
	})
	if msg.JobID != "u-1" || msg.JobName != "cds-abc" || msg.JobNamespace != "ns" {
		t.Fatalf("got %+v", msg)
	}
}

func TestHandleIgnoresNonTerminalStatus(t *testing.T) {
	client := fakeClientsetWithJobAndPod(t)
	log, err := logging.New("dev")
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	h, err := New(Config{}, client, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := h.Handle(context.Background(), "cds.job.running", map[string]any{
		"job-id": "u-1", "job-name": "cds-abc", "job-namespace": "ns",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if _, getErr := client.BatchV1().Jobs("ns").Get(context.Background(), "cds-abc", metav1.GetOptions{}); getErr != nil {
		t.Fatalf("expected job to still exist for a non-terminal status: %v", getErr)
	}
}

func TestHandleHarvestsLogsAndDeletesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	namesDir := t.TempDir()
	client := fakeClientsetWithJobAndPod(t)
	log, err := logging.New("dev")
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	h, err := New(Config{PodLogsBasepath: dir, PodNamesBasepath: namesDir}, client, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := h.Handle(context.Background(), "cds.job.success", map[string]any{
		"job-id": "u-1", "job-name": "cds-abc", "job-namespace": "ns",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "cds-abc")); statErr != nil {
		t.Fatalf("expected log directory to be created: %v", statErr)
	}

	if _, getErr := client.BatchV1().Jobs("ns").Get(context.Background(), "cds-abc", metav1.GetOptions{}); getErr == nil {
		t.Fatal("expected job to have been deleted")
	}
}

func TestHandleRetainsJobWhenKeepJobsSet(t *testing.T) {
	client := fakeClientsetWithJobAndPod(t)
	log, err := logging.New("dev")
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	h, err := New(Config{KeepJobs: true}, client, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := h.Handle(context.Background(), "cds.job.failed", map[string]any{
		"job-id": "u-1", "job-name": "cds-abc", "job-namespace": "ns",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if _, getErr := client.BatchV1().Jobs("ns").Get(context.Background(), "cds-abc", metav1.GetOptions{}); getErr != nil {
		t.Fatalf("expected job to still exist when KEEP_JOBS is set: %v", getErr)
	}
}
