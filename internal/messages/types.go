// Package messages defines the wire shapes exchanged over the bus,
// paired with the JSON Schema each one is validated against before a
// handler ever sees it (see internal/busconsumer).
package messages

import "encoding/json"

// UploadRequest is the inbound upload-requested message. Optional
// fields are pointers so an explicit JSON null round-trips as "not
// provided" rather than a zero value.
type UploadRequest struct {
	Inmeta            string  `json:"inmeta"`
	RouteName         string  `json:"routename"`
	DeliverableAsset  *int64  `json:"deliverable_asset,omitempty"`
	DeliverableBundle *int64  `json:"deliverable_bundle,omitempty"`
	Filename          *string `json:"filename,omitempty"`
	OnlineID          *string `json:"online_id,omitempty"`
	NearlineID        *string `json:"nearline_id,omitempty"`
	ArchiveID         *string `json:"archive_id,omitempty"`
}

// JobEvent is the outbound lifecycle message published by the Job
// Watcher on routing key cds.job.<status>.
type JobEvent struct {
	JobID         string  `json:"job-id"`
	JobName       string  `json:"job-name"`
	JobNamespace  string  `json:"job-namespace"`
	RetryCount    int     `json:"retry-count"`
	FailureReason *string `json:"failure-reason,omitempty"`
}

// JobStatusMessage is the inbound shape the Cleanup Handler consumes
// on routing key cds.job.*. Structurally identical to JobEvent; kept
// as a distinct type because the two sides evolve independently (the
// Responder must keep accepting fields the Reaper has not started
// sending yet, and vice versa).
type JobStatusMessage struct {
	JobID         string  `json:"job-id"`
	JobName       string  `json:"job-name"`
	JobNamespace  string  `json:"job-namespace"`
	RetryCount    *int    `json:"retry-count,omitempty"`
	FailureReason *string `json:"failure-reason,omitempty"`
}

// EnrichAsStarted marshals req to a JSON object and merges in the
// launched job's identity, matching the "original request enriched
// with job-id/job-name/job-namespace" shape of the launched-job
// acknowledgement.
func EnrichAsStarted(req UploadRequest, jobID, jobName, jobNamespace string) (map[string]any, error) {
	body, err := toMap(req)
	if err != nil {
		return nil, err
	}
	body["job-id"] = jobID
	body["job-name"] = jobName
	body["job-namespace"] = jobNamespace
	return body, nil
}

// EnrichAsInvalid is EnrichAsStarted's counterpart for the
// cds.job.invalid acknowledgement: it carries an error description and
// optionally a job name/traceback when the failure happened after a
// job name had already been chosen.
func EnrichAsInvalid(req UploadRequest, jobName, validationError, traceback string) (map[string]any, error) {
	body, err := toMap(req)
	if err != nil {
		return nil, err
	}
	if jobName != "" {
		body["job-name"] = jobName
	}
	body["error"] = validationError
	if traceback != "" {
		body["traceback"] = traceback
	}
	return body, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
