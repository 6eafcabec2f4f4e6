// Package jobtemplate loads the cluster Job template the Launch
// Handler submits from, and builds a fresh, independent Job spec per
// invocation. Grounded on the responder's CDSLauncher.build_job_doc,
// re-architected per the design note against in-place template
// mutation: Load parses the YAML once into an immutable Template: each
// call to Build deep-copies it before filling in the per-request
// fields, so concurrent or repeated submissions never see one
// another's edits.
package jobtemplate

import (
	"fmt"
	"os"
	"path/filepath"

	batchv1 "k8s.io/api/batch/v1"
	sigyaml "sigs.k8s.io/yaml"
)

// Template wraps a parsed Job manifest. It is never mutated after
// Load returns; Build always works on a copy.
type Template struct {
	base *batchv1.Job
}

// candidatePaths returns the three locations a template is resolved
// from, in priority order: an explicit override, a path relative to
// the responder's own templates directory, then a well-known path a
// deployment can mount a ConfigMap onto.
func candidatePaths(templatesPath string) []string {
	var paths []string
	if templatesPath != "" {
		paths = append(paths, filepath.Join(templatesPath, "cdsjob.yaml"))
	}
	paths = append(paths, "templates/cdsjob.yaml")
	paths = append(paths, "/etc/cdsresponder/templates/cdsjob.yaml")
	return paths
}

// Load resolves and parses the Job template. templatesPath is
// typically read from the TEMPLATES_PATH environment variable; pass
// "" to skip that candidate.
func Load(templatesPath string) (*Template, error) {
	var lastErr error
	for _, p := range candidatePaths(templatesPath) {
		raw, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		var job batchv1.Job
		if err := sigyaml.Unmarshal(raw, &job); err != nil {
			return nil, fmt.Errorf("parsing job template %s: %w", p, err)
		}
		return &Template{base: &job}, nil
	}
	return nil, fmt.Errorf("no cds job template could be found (tried %v): %w", candidatePaths(templatesPath), lastErr)
}

// Build produces an independent Job spec derived from the template:
// metadata.name set to name, the first container's command overwritten
// with command, and labels merged onto metadata.labels (template
// labels are kept where the caller doesn't override them).
func (t *Template) Build(name string, command []string, labels map[string]string) (*batchv1.Job, error) {
	job := t.base.DeepCopy()
	job.ResourceVersion = ""
	job.UID = ""
	job.Name = name

	if len(job.Spec.Template.Spec.Containers) == 0 {
		return nil, fmt.Errorf("job template has no containers to set a command on")
	}
	job.Spec.Template.Spec.Containers[0].Command = command

	if job.Labels == nil {
		job.Labels = map[string]string{}
	}
	for k, v := range labels {
		job.Labels[k] = v
	}

	return job, nil
}
