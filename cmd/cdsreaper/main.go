// Command cdsreaper runs the Reaper daemon: it watches this namespace's
// cds- prefixed Jobs and publishes a lifecycle event for each one whose
// status changes, resuming from a Redis-journalled cursor across
// restarts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guardian/cds-k8s/internal/config"
	"github.com/guardian/cds-k8s/internal/journal"
	"github.com/guardian/cds-k8s/internal/k8sconfig"
	"github.com/guardian/cds-k8s/internal/logging"
	"github.com/guardian/cds-k8s/internal/publisher"
	"github.com/guardian/cds-k8s/internal/watcher"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j, err := journal.Connect(ctx, config.RedisJournalConfig(), log, 3)
	if err != nil {
		log.Error("failed to connect to redis journal", "error", err)
		os.Exit(1)
	}
	defer j.Close()

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

	w := watcher.New(clientset.BatchV1().Jobs(namespace), j, pub, log)

	log.Info("reaper starting", "namespace", namespace)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("job watcher exited with a fatal error", "error", err)
		os.Exit(2)
	}
	log.Info("reaper shut down cleanly")
}
