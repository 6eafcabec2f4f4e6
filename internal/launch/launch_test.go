package launch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guardian/cds-k8s/internal/messages"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func TestDecodeUploadRequestRequiresInmetaAndRoutename(t *testing.T) {
	if _, err := decodeUploadRequest(map[string]any{"inmeta": "<a/>"}); err == nil {
		t.Fatal("expected error for missing routename")
	}
	req, err := decodeUploadRequest(map[string]any{
		"inmeta":    "<a/>",
		"routename": "route.xml",
		"filename":  "somefile.mxf",
	})
	if err != nil {
		t.Fatalf("decodeUploadRequest: %v", err)
	}
	if req.Inmeta != "<a/>" || req.RouteName != "route.xml" || req.Filename == nil || *req.Filename != "somefile.mxf" {
		t.Fatalf("got %+v", req)
	}
}

func TestFilenameHintPrecedence(t *testing.T) {
	req := messages.UploadRequest{OnlineID: strp("online-1"), NearlineID: strp("nearline-1")}
	hint, err := filenameHint(req)
	if err != nil {
		t.Fatalf("filenameHint: %v", err)
	}
	if hint != "online-1" {
		t.Fatalf("got %q, want online-1 (filename absent, online_id should win)", hint)
	}
}

func TestFilenameHintFallsBackToRandom(t *testing.T) {
	hint, err := filenameHint(messages.UploadRequest{})
	if err != nil {
		t.Fatalf("filenameHint: %v", err)
	}
	if len(hint) != 10 {
		t.Fatalf("got %q, want a 10-char random fallback", hint)
	}
}

func TestBuildLabelsDefaultsToNone(t *testing.T) {
	labels := buildLabels(messages.UploadRequest{DeliverableAsset: i64p(42)})
	if labels["deliverable-asset-id"] != "42" {
		t.Fatalf("got %q", labels["deliverable-asset-id"])
	}
	if labels["online-id"] != "None" {
		t.Fatalf("got %q, want None for an absent value", labels["online-id"])
	}
}

func TestWriteInmetaAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	h := &Handler{cfg: Config{InmetaPath: dir}}

	first, err := h.writeInmeta("somefile", "content-1")
	if err != nil {
		t.Fatalf("writeInmeta: %v", err)
	}
	if filepath.Base(first) != "somefile.inmeta" {
		t.Fatalf("got %q", first)
	}

	second, err := h.writeInmeta("somefile", "content-2")
	if err != nil {
		t.Fatalf("writeInmeta: %v", err)
	}
	if filepath.Base(second) != "somefile-1.inmeta" {
		t.Fatalf("got %q, want somefile-1.inmeta", second)
	}

	got, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "content-2" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteInmetaRequiresConfiguredPath(t *testing.T) {
	h := &Handler{cfg: Config{}}
	if _, err := h.writeInmeta("somefile", "x"); err == nil {
		t.Fatal("expected an error when INMETA_PATH is not configured")
	}
}
