// Package cleanup implements the Responder's Cleanup Handler: on a
// terminal job-status event it harvests the job's pod logs to disk and
// removes the Job from the cluster, unless retention is configured.
// Grounded on the responder's K8MessageProcessor: same routing-key
// dispatch, same log-harvest-then-delete ordering, same "log harvest
// failures must never block deletion" rule.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v6"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/guardian/cds-k8s/internal/logging"
	"github.com/guardian/cds-k8s/internal/messages"
)

// Config holds the Cleanup Handler's runtime configuration.
type Config struct {
	Exchange         string
	PodLogsBasepath  string // empty disables log harvesting
	PodNamesBasepath string
	KeepJobs         bool
}

// Handler implements busconsumer.Handler for job-status messages.
type Handler struct {
	cfg    Config
	client kubernetes.Interface
	schema *jsonschema.Schema
	log    *logging.Logger
}

// New constructs a Cleanup Handler.
func New(cfg Config, client kubernetes.Interface, log *logging.Logger) (*Handler, error) {
	schema, err := messages.Compile("job-status", messages.JobStatusSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling job-status schema: %w", err)
	}
	return &Handler{cfg: cfg, client: client, schema: schema, log: log.With("component", "CleanupHandler")}, nil
}

func (h *Handler) Exchange() string           { return h.cfg.Exchange }
func (h *Handler) RoutingKey() string         { return "cds.job.*" }
func (h *Handler) Schema() *jsonschema.Schema { return h.schema }

// Handle dispatches on the terminal/non-terminal distinction in
// routingKey: for failed/success it harvests logs and deletes the Job
// (unless KeepJobs); any other status is logged only.
func (h *Handler) Handle(ctx context.Context, routingKey string, body map[string]any) error {
	msg := decodeJobStatus(body)

	h.log.Debug("received job status message", "routing_key", routingKey, "job", msg.JobName, "job_id", msg.JobID)

	if routingKey != "cds.job.failed" && routingKey != "cds.job.success" {
		h.log.Info("job is in progress", "job", msg.JobName, "routing_key", routingKey)
		return nil
	}

	if saved, err := h.readLogs(ctx, msg); err != nil {
		h.log.Error("could not save job logs", "job", msg.JobName, "error", err)
	} else {
		h.log.Info("job terminated, saved pod logs", "job", msg.JobName, "pod_count", saved)
	}

	if h.cfg.KeepJobs {
		h.log.Info("retaining job as KEEP_JOBS is set", "job", msg.JobName)
		return nil
	}

	h.log.Info("removing completed job", "job", msg.JobName)
	h.safeDeleteJob(ctx, msg.JobName, msg.JobNamespace)
	return nil
}

func decodeJobStatus(body map[string]any) messages.JobStatusMessage {
	var m messages.JobStatusMessage
	m.JobID, _ = body["job-id"].(string)
	m.JobName, _ = body["job-name"].(string)
	m.JobNamespace, _ = body["job-namespace"].(string)
	return m
}

// readLogs lists the pods for msg.JobName, writes each one's log to
// <PodLogsBasepath>/<job-name>/<pod-name>.log, and records the pod
// name against the job-id under PodNamesBasepath. Returns the number
// of pods processed. A zero PodLogsBasepath is a deliberate no-op, not
// an error — it means log harvesting was never configured.
func (h *Handler) readLogs(ctx context.Context, msg messages.JobStatusMessage) (int, error) {
	if h.cfg.PodLogsBasepath == "" {
		h.log.Warn("POD_LOGS_BASEPATH is not set, skipping log harvest")
		return 0, nil
	}

	pods, err := h.client.CoreV1().Pods(msg.JobNamespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + msg.JobName,
	})
	if err != nil {
		return 0, fmt.Errorf("listing pods for job %s: %w", msg.JobName, err)
	}

	destDir := filepath.Join(h.cfg.PodLogsBasepath, msg.JobName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating log directory %s: %w", destDir, err)
	}

	for _, pod := range pods.Items {
		if err := h.dumpPodLog(ctx, pod.Name, msg.JobNamespace, filepath.Join(destDir, pod.Name+".log")); err != nil {
			return len(pods.Items), err
		}
		if h.cfg.PodNamesBasepath != "" {
			if err := writePodName(pod.Name, filepath.Join(h.cfg.PodNamesBasepath, msg.JobID+".txt")); err != nil {
				return len(pods.Items), err
			}
		}
	}
	return len(pods.Items), nil
}

func (h *Handler) dumpPodLog(ctx context.Context, podName, namespace, filename string) error {
	raw, err := h.client.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{}).DoRaw(ctx)
	if err != nil {
		return fmt.Errorf("reading logs for pod %s: %w", podName, err)
	}
	if err := os.WriteFile(filename, raw, 0o644); err != nil {
		return fmt.Errorf("writing pod log %s: %w", filename, err)
	}
	h.log.Debug("downloaded pod log", "pod", podName, "bytes", len(raw))
	return nil
}

func writePodName(podName, filename string) error {
	return os.WriteFile(filename, []byte(podName), 0o644)
}

func (h *Handler) safeDeleteJob(ctx context.Context, jobName, jobNamespace string) {
	propagation := metav1.DeletePropagationForeground
	if err := h.client.BatchV1().Jobs(jobNamespace).Delete(ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	}); err != nil {
		h.log.Error("could not remove job", "job", jobName, "namespace", jobNamespace, "error", err)
	}
}
