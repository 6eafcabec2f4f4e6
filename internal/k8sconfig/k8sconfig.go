// Package k8sconfig bootstraps a Kubernetes client the same way both
// daemons need to: in-cluster config first, falling back to a
// kubeconfig file for local development, and resolving the working
// namespace from the mounted service-account token before falling
// back to an explicit override. Grounded on the responder's launcher
// and cleanup-handler constructors, which both open this exact
// sequence independently; factored out here so it is written once.
package k8sconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// serviceAccountNamespaceFile is where Kubernetes mounts the
// namespace a pod is running in.
const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// NewClientset builds a Kubernetes clientset, preferring in-cluster
// configuration and falling back to the kubeconfig named by
// KUBE_CONFIG (defaulting to ~/.kube/config) when that fails.
func NewClientset() (*kubernetes.Clientset, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBE_CONFIG")
		if kubeconfig == "" {
			home, homeErr := os.UserHomeDir()
			if homeErr != nil {
				return nil, fmt.Errorf("not running in-cluster and could not resolve home directory for a kubeconfig: %w", err)
			}
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("could not load in-cluster config or kubeconfig %s: %w", kubeconfig, err)
		}
	}
	return kubernetes.NewForConfig(cfg)
}

// ResolveNamespace returns the namespace this process should operate
// in: the one recorded in the mounted service-account token if
// present, otherwise fallback. An empty result with a non-nil error
// means neither source produced a namespace.
func ResolveNamespace(fallback string) (string, error) {
	if ns, ok := fromServiceAccount(); ok {
		return ns, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("not running in a cluster and no fallback namespace was configured")
}

func fromServiceAccount() (string, bool) {
	raw, err := os.ReadFile(serviceAccountNamespaceFile)
	if err != nil {
		return "", false
	}
	ns := strings.TrimSpace(string(raw))
	if ns == "" {
		return "", false
	}
	return ns, true
}
