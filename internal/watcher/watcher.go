// Package watcher implements the Reaper's Job Watcher: it streams
// Kubernetes Job events for a namespace, classifies each one, and
// publishes a lifecycle message for the ones this system cares about.
// Grounded on the reaper's JobWatcher: same cds- prefix filter, same
// DELETED skip, same 410/Gone recovery by clearing the journal and
// restarting from "now".
package watcher

import (
	"context"
	"encoding/json"
	"strings"

	batchv1types "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	batchv1client "k8s.io/client-go/kubernetes/typed/batch/v1"

	"github.com/guardian/cds-k8s/internal/jobstatus"
	"github.com/guardian/cds-k8s/internal/journal"
	"github.com/guardian/cds-k8s/internal/logging"
	"github.com/guardian/cds-k8s/internal/messages"
	"github.com/guardian/cds-k8s/internal/publisher"
)

// jobNamePrefix is the only namespace of Job names this watcher
// reports on; everything else in the namespace is left alone.
const jobNamePrefix = "cds-"

// Watcher streams Job events for a single namespace and turns them
// into lifecycle messages.
type Watcher struct {
	jobs    batchv1client.JobInterface
	journal *journal.Journal
	pub     *publisher.Publisher
	log     *logging.Logger
}

// New constructs a Watcher.
func New(jobs batchv1client.JobInterface, j *journal.Journal, pub *publisher.Publisher, log *logging.Logger) *Watcher {
	return &Watcher{jobs: jobs, journal: j, pub: pub, log: log.With("component", "JobWatcher")}
}

// Run streams Job events until ctx is cancelled, an unrecoverable API
// error occurs, or a status message cannot be published (the cursor is
// not advanced past an event whose publish failed). It resumes from the journalled resourceVersion, or
// "now" if none is journalled, and recovers transparently from a
// 410/Gone by clearing the journal and restarting from "now".
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.watchOnce(ctx)
		if err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
			w.log.Warn("watch cursor expired, restarting from the most recent event", "error", err)
			if clearErr := w.journal.Clear(ctx); clearErr != nil {
				w.log.Error("failed to clear journal after cursor expiry", "error", clearErr)
			}
			continue
		}
		w.log.Error("cannot recover from watch error", "error", err)
		return err
	}
}

func (w *Watcher) watchOnce(ctx context.Context) error {
	resourceVersion, err := w.startResourceVersion(ctx)
	if err != nil {
		return err
	}

	w.log.Info("initiating job watch", "resource_version", resourceVersion)

	wi, err := w.jobs.Watch(ctx, metav1.ListOptions{ResourceVersion: resourceVersion})
	if err != nil {
		return err
	}
	defer wi.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-wi.ResultChan():
			if !ok {
				return nil
			}
			if err := w.handleEvent(ctx, event); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) startResourceVersion(ctx context.Context) (string, error) {
	cursor, ok := w.journal.MostRecentEvent(ctx)
	if ok {
		return cursor, nil
	}
	w.log.Info("no journalled resource version, starting from the most recent event")
	list, err := w.jobs.List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", err
	}
	return list.ResourceVersion, nil
}

func (w *Watcher) handleEvent(ctx context.Context, event watch.Event) error {
	if event.Type == watch.Error {
		if status, ok := event.Object.(*metav1.Status); ok {
			return apierrors.FromObject(status)
		}
		return nil
	}

	job, ok := event.Object.(*batchv1types.Job)
	if !ok {
		w.log.Warn("received watch event with unexpected object type")
		return nil
	}

	if !strings.HasPrefix(job.GetName(), jobNamePrefix) {
		w.log.Debug("job is not a cds job, ignoring", "name", job.GetName())
		return nil
	}
	if event.Type == watch.Deleted {
		// the job will already have been reported as succeeded/failed
		// before Kubernetes removes it; nothing more to report here.
		return nil
	}

	if err := w.checkJob(ctx, job); err != nil {
		w.log.Error("failed to publish job status", "job", job.GetName(), "error", err)
		return err
	}
	return w.journal.RecordProcessed(ctx, job.GetResourceVersion())
}

func (w *Watcher) checkJob(ctx context.Context, job *batchv1types.Job) error {
	status, ok := jobstatus.Classify(snapshotOf(job))
	if !ok {
		w.log.Debug("job status did not match any known state, ignoring", "name", job.GetName())
		return nil
	}
	w.log.Info("job status observed", "name", job.GetName(), "uid", job.GetUID(), "status", status)

	event := messages.JobEvent{
		JobID:        string(job.GetUID()),
		JobName:      job.GetName(),
		JobNamespace: job.GetNamespace(),
		RetryCount:   int(failedCount(job)),
	}
	if status == jobstatus.Failed {
		reason := jobstatus.FailureReason(conditionsOf(job))
		event.FailureReason = &reason
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}

	routingKey := "cds.job." + string(status)
	_, err = w.pub.Notify(ctx, routingKey, body)
	return err
}

func failedCount(job *batchv1types.Job) int32 {
	if job.Status.Failed == 0 {
		return 0
	}
	return job.Status.Failed
}

func snapshotOf(job *batchv1types.Job) jobstatus.Snapshot {
	s := jobstatus.Snapshot{Conditions: conditionsOf(job)}
	if job.Status.Active != 0 || hasBeenSet(job) {
		active := job.Status.Active
		s.Active = &active
	}
	if job.Status.Failed != 0 || hasBeenSet(job) {
		failed := job.Status.Failed
		s.Failed = &failed
	}
	if job.Status.Succeeded != 0 || hasBeenSet(job) {
		succeeded := job.Status.Succeeded
		s.Succeeded = &succeeded
	}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		s.StartTime = &t
	}
	return s
}

// hasBeenSet reports whether the cluster has reported any status for
// this job at all. The Kubernetes API represents "never reported" and
// "reported as zero" identically (both as the Go zero value), so we
// treat StartTime being set, or any condition being present, as
// evidence the control plane has touched this job's status at least
// once — matching the original classifier's nil-vs-zero distinction as
// closely as the Go API type allows.
func hasBeenSet(job *batchv1types.Job) bool {
	return job.Status.StartTime != nil || len(job.Status.Conditions) > 0
}

func conditionsOf(job *batchv1types.Job) []jobstatus.Condition {
	out := make([]jobstatus.Condition, 0, len(job.Status.Conditions))
	for _, c := range job.Status.Conditions {
		out = append(out, jobstatus.Condition{
			Reason:        c.Reason,
			Message:       c.Message,
			LastProbeTime: c.LastProbeTime.Time,
		})
	}
	return out
}
