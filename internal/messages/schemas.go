package messages

import (
	"bytes"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// UploadRequestSchemaJSON is the JSON Schema the Consumer Runtime
// validates deliverables.syndication.*.upload messages against before
// the Launch Handler ever sees them. routename is the only accepted
// spelling of the routing identifier — see SPEC_FULL.md's note on the
// route/routename inconsistency in the upstream schema history.
const UploadRequestSchemaJSON = `{
  "type": "object",
  "properties": {
    "deliverable_asset": {"type": ["integer", "null"]},
    "deliverable_bundle": {"type": ["integer", "null"]},
    "filename": {"type": ["string", "null"]},
    "online_id": {"type": ["string", "null"]},
    "nearline_id": {"type": ["string", "null"]},
    "archive_id": {"type": ["string", "null"]},
    "inmeta": {"type": "string"},
    "routename": {"type": "string"}
  },
  "required": ["inmeta", "routename"]
}`

// JobStatusSchemaJSON is the JSON Schema for cds.job.* messages
// consumed by the Cleanup Handler.
const JobStatusSchemaJSON = `{
  "type": "object",
  "properties": {
    "job-id": {"type": "string"},
    "job-name": {"type": "string"},
    "job-namespace": {"type": "string"},
    "retry-count": {"type": ["number", "null"]},
    "failure-reason": {"type": ["string", "null"]}
  },
  "required": ["job-id", "job-name", "job-namespace"]
}`

// Compile parses a JSON Schema document and returns a validator. name
// is an arbitrary resource identifier used in compiler error messages.
func Compile(name, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader([]byte(schemaJSON))); err != nil {
		return nil, err
	}
	return c.Compile(name)
}
