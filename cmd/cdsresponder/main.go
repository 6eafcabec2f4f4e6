// Command cdsresponder runs the Responder daemon: it consumes upload
// requests from an upstream exchange and launches Jobs for them, and
// consumes this system's own job-lifecycle events to harvest pod logs
// and clean up finished Jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guardian/cds-k8s/internal/busconsumer"
	"github.com/guardian/cds-k8s/internal/cleanup"
	"github.com/guardian/cds-k8s/internal/config"
	"github.com/guardian/cds-k8s/internal/jobtemplate"
	"github.com/guardian/cds-k8s/internal/k8sconfig"
	"github.com/guardian/cds-k8s/internal/launch"
	"github.com/guardian/cds-k8s/internal/logging"
	"github.com/guardian/cds-k8s/internal/publisher"
)

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func main() {
	log, err := logging.New(envString("LOG_MODE", "dev"))
	if err != nil {
		fmt.Printf("failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	keepJobs, err := config.KeepJobs()
	if err != nil {
		log.Error("invalid KEEP_JOBS configuration", "error", err)
		os.Exit(1)
	}

	clientset, err := k8sconfig.NewClientset()
	if err != nil {
		log.Error("failed to build kubernetes client", "error", err)
		os.Exit(1)
	}

	namespace, err := k8sconfig.ResolveNamespace(envString("NAMESPACE", ""))
	if err != nil {
		log.Error("failed to resolve namespace", "error", err)
		os.Exit(1)
	}

	tpl, err := jobtemplate.Load(config.TemplatesPath())
	if err != nil {
		log.Error("failed to load job template", "error", err)
		os.Exit(1)
	}

	xsd, err := launch.LoadXSD(config.InmetaXSD())
	if err != nil {
		log.Error("failed to load inmeta xsd", "error", err)
		os.Exit(1)
	}
	defer xsd.Free()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, err := publisher.New(ctx, publisher.Config{
		URL:          config.RabbitMQURL(),
		ExchangeName: config.MyExchange(),
		MaxRetries:   config.RabbitMQConnectionAttempts(),
	}, log)
	if err != nil {
		log.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	launchHandler, err := launch.New(launch.Config{
		Exchange:   config.UpstreamExchange(),
		InmetaPath: config.InmetaPath(),
		Namespace:  namespace,
	}, clientset.BatchV1().Jobs(namespace), tpl, xsd, pub, log)
	if err != nil {
		log.Error("failed to build launch handler", "error", err)
		os.Exit(1)
	}

	cleanupHandler, err := cleanup.New(cleanup.Config{
		Exchange:         config.MyExchange(),
		PodLogsBasepath:  config.PodLogsBasepath(),
		PodNamesBasepath: config.PodNamesBasepath(),
		KeepJobs:         keepJobs,
	}, clientset, log)
	if err != nil {
		log.Error("failed to build cleanup handler", "error", err)
		os.Exit(1)
	}

	runtime := busconsumer.New(config.RabbitMQURL(), log, launchHandler, cleanupHandler)

	log.Info("responder starting", "namespace", namespace, "keep_jobs", keepJobs)
	if err := runtime.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("consumer runtime exited with a fatal error", "error", err)
		os.Exit(1)
	}
	log.Info("responder shut down cleanly")
}
