// Package launch implements the Responder's Launch Handler: it
// XSD-validates an inbound inmeta document, stages it to disk under a
// collision-free name, materialises a Job from the shared template,
// submits it, and reports the outcome back onto the bus. Grounded on
// the responder's UploadRequestedProcessor and CDSLauncher, wired
// together here as a single handler plugged into the Consumer Runtime
// (internal/busconsumer).
package launch

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v6"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	batchv1client "k8s.io/client-go/kubernetes/typed/batch/v1"

	xsdvalidate "github.com/terminalstatic/go-xsd-validate"

	cdserrors "github.com/guardian/cds-k8s/internal/errors"
	"github.com/guardian/cds-k8s/internal/jobtemplate"
	"github.com/guardian/cds-k8s/internal/logging"
	"github.com/guardian/cds-k8s/internal/messages"
	"github.com/guardian/cds-k8s/internal/publisher"
	"github.com/guardian/cds-k8s/internal/sanitize"
)

// maxFilenameAttempts bounds the collision-avoidance loop for staged
// inmeta files; beyond this, something is badly wrong with the
// filesystem and we give up rather than loop forever.
const maxFilenameAttempts = 1000

// Config holds the Launch Handler's runtime configuration, all of it
// sourced from environment variables at startup (see §6).
type Config struct {
	Exchange   string
	InmetaPath string
	Namespace  string
}

// Handler implements busconsumer.Handler for upload-request messages.
type Handler struct {
	cfg    Config
	jobs   batchv1client.JobInterface
	tpl    *jobtemplate.Template
	xsd    *xsdvalidate.XsdHandler
	pub    *publisher.Publisher
	schema *jsonschema.Schema
	log    *logging.Logger
}

// New constructs a Launch Handler. xsd must already be loaded by the
// caller (see LoadXSD) so its lifetime is managed explicitly rather
// than implicitly by the handler.
func New(cfg Config, jobs batchv1client.JobInterface, tpl *jobtemplate.Template, xsd *xsdvalidate.XsdHandler, pub *publisher.Publisher, log *logging.Logger) (*Handler, error) {
	schema, err := messages.Compile("upload-request", messages.UploadRequestSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling upload-request schema: %w", err)
	}
	return &Handler{cfg: cfg, jobs: jobs, tpl: tpl, xsd: xsd, pub: pub, schema: schema, log: log.With("component", "LaunchHandler")}, nil
}

// LoadXSD resolves the inmeta XSD location (an explicit override, else
// a bundled path) and compiles it. Callers must call Free on the
// result when done.
func LoadXSD(explicitPath string) (*xsdvalidate.XsdHandler, error) {
	path := explicitPath
	if path == "" {
		path = "inmeta.xsd"
	}
	if err := xsdvalidate.Init(); err != nil {
		return nil, fmt.Errorf("initialising xsd validation library: %w", err)
	}
	handler, err := xsdvalidate.NewXsdHandlerUrl(path, xsdvalidate.ParsErrDefault)
	if err != nil {
		return nil, fmt.Errorf("compiling inmeta xsd at %s: %w", path, err)
	}
	return handler, nil
}

func (h *Handler) Exchange() string           { return h.cfg.Exchange }
func (h *Handler) RoutingKey() string         { return "deliverables.syndication.*.upload" }
func (h *Handler) Schema() *jsonschema.Schema { return h.schema }

// Handle implements the nine-step upload-request algorithm.
func (h *Handler) Handle(ctx context.Context, routingKey string, rawBody map[string]any) error {
	req, err := decodeUploadRequest(rawBody)
	if err != nil {
		return &cdserrors.NackMessage{Reason: err}
	}

	if err := h.xsd.ValidateMem([]byte(req.Inmeta), xsdvalidate.ValidErrDefault); err != nil {
		h.log.Error("inmeta did not validate against xsd", "error", err)
		body, mapErr := messages.EnrichAsInvalid(req, "", err.Error(), "")
		if mapErr == nil {
			_, _ = h.pub.Notify(ctx, "cds.job.invalid", body)
		}
		return &cdserrors.NackMessage{Reason: err}
	}

	hint, err := filenameHint(req)
	if err != nil {
		return &cdserrors.NackMessage{Reason: err}
	}
	stem := sanitize.JobName(hint)

	inmetaFile, err := h.writeInmeta(stem, req.Inmeta)
	if err != nil {
		return &cdserrors.NackMessage{Reason: err}
	}

	jobName := fmt.Sprintf("cds-%s-%s", stem, randomAlnum(4))
	labels := buildLabels(req)
	command := []string{"/usr/local/bin/cds_run.pl", "--input-inmeta", inmetaFile, "--route", req.RouteName}

	jobDoc, err := h.tpl.Build(jobName, command, labels)
	if err != nil {
		_ = os.Remove(inmetaFile)
		return &cdserrors.NackMessage{Reason: err}
	}

	created, err := h.jobs.Create(ctx, jobDoc, metav1.CreateOptions{})
	if err != nil {
		h.log.Error("could not submit job", "job_name", jobName, "error", err)
		_ = os.Remove(inmetaFile)
		body, mapErr := messages.EnrichAsInvalid(req, jobName, err.Error(), "")
		if mapErr == nil {
			_, _ = h.pub.Notify(ctx, "cds.job.invalid", body)
		}
		return &cdserrors.NackMessage{Reason: err}
	}

	body, err := messages.EnrichAsStarted(req, string(created.GetUID()), created.GetName(), created.GetNamespace())
	if err != nil {
		return &cdserrors.NackMessage{Reason: err}
	}
	if _, err := h.pub.Notify(ctx, "cds.job.started", body); err != nil {
		h.log.Error("job started but could not inform exchange", "job_name", jobName, "error", err)
		return &cdserrors.NackMessage{Reason: err}
	}
	return nil
}

func decodeUploadRequest(body map[string]any) (messages.UploadRequest, error) {
	var req messages.UploadRequest
	inmeta, _ := body["inmeta"].(string)
	route, _ := body["routename"].(string)
	req.Inmeta = inmeta
	req.RouteName = route
	req.Filename = stringPtrField(body, "filename")
	req.OnlineID = stringPtrField(body, "online_id")
	req.NearlineID = stringPtrField(body, "nearline_id")
	req.ArchiveID = stringPtrField(body, "archive_id")
	if v, ok := body["deliverable_asset"].(float64); ok {
		n := int64(v)
		req.DeliverableAsset = &n
	}
	if v, ok := body["deliverable_bundle"].(float64); ok {
		n := int64(v)
		req.DeliverableBundle = &n
	}
	if req.Inmeta == "" || req.RouteName == "" {
		return req, fmt.Errorf("upload request missing required inmeta/routename")
	}
	return req, nil
}

func stringPtrField(body map[string]any, key string) *string {
	v, ok := body[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

// filenameHint picks the first non-null of filename, online_id,
// nearline_id, archive_id, falling back to a random 10-char string.
func filenameHint(req messages.UploadRequest) (string, error) {
	for _, candidate := range []*string{req.Filename, req.OnlineID, req.NearlineID, req.ArchiveID} {
		if candidate != nil && *candidate != "" {
			return *candidate, nil
		}
	}
	return randomAlnum(10), nil
}

func (h *Handler) writeInmeta(stem, content string) (string, error) {
	if h.cfg.InmetaPath == "" {
		return "", fmt.Errorf("INMETA_PATH is not configured")
	}
	if stem == "" {
		return "", fmt.Errorf("sanitised filename hint is blank")
	}

	for i := 0; i < maxFilenameAttempts; i++ {
		name := stem + ".inmeta"
		if i > 0 {
			name = stem + "-" + strconv.Itoa(i) + ".inmeta"
		}
		target := filepath.Join(h.cfg.InmetaPath, name)
		if _, err := os.Stat(target); os.IsNotExist(err) {
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("writing inmeta file %s: %w", target, err)
			}
			return target, nil
		}
	}
	return "", fmt.Errorf("could not find a free filename for %s after %d attempts", stem, maxFilenameAttempts)
}

func buildLabels(req messages.UploadRequest) map[string]string {
	return map[string]string{
		"deliverable-asset-id":  sanitize.Label(stringOrNone(int64PtrString(req.DeliverableAsset))),
		"deliverable-bundle-id": sanitize.Label(stringOrNone(int64PtrString(req.DeliverableBundle))),
		"online-id":             sanitize.Label(stringOrNone(derefString(req.OnlineID))),
		"nearline-id":           sanitize.Label(stringOrNone(derefString(req.NearlineID))),
		"archive-id":            sanitize.Label(stringOrNone(derefString(req.ArchiveID))),
	}
}

func int64PtrString(v *int64) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.FormatInt(*v, 10), true
}

func derefString(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	return *v, true
}

func stringOrNone(v string, ok bool) string {
	if !ok {
		return "None"
	}
	return v
}

func randomAlnum(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			// crypto/rand failing is a sign the process can't do
			// anything safely; panic rather than hand back a
			// predictable filename/job-name stem.
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}
