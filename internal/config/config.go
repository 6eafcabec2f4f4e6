// Package config centralises the environment variables both daemons
// read at startup (§6 of the design). Each daemon's main package reads
// from here rather than calling os.Getenv directly so the two binaries
// stay in lockstep about names and defaults.
package config

import (
	"fmt"
	"net/url"

	"github.com/guardian/cds-k8s/internal/envutil"
	"github.com/guardian/cds-k8s/internal/journal"
)

// RabbitMQURL builds an amqp:// connection string from the
// RABBITMQ_{HOST,PORT,VHOST,USER,PASSWD} environment variables.
func RabbitMQURL() string {
	host := envutil.String("RABBITMQ_HOST", "localhost")
	port := envutil.Int("RABBITMQ_PORT", 5672)
	vhost := envutil.String("RABBITMQ_VHOST", "/")
	user := envutil.String("RABBITMQ_USER", "guest")
	passwd := envutil.String("RABBITMQ_PASSWD", "guest")

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, passwd),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + url.PathEscape(trimLeadingSlash(vhost)),
	}
	return u.String()
}

func trimLeadingSlash(vhost string) string {
	if len(vhost) > 0 && vhost[0] == '/' {
		return vhost[1:]
	}
	return vhost
}

// RabbitMQConnectionAttempts is the Publisher's setup and delivery
// retry budget. The Consumer Runtime dials the broker once and does not
// use it.
func RabbitMQConnectionAttempts() int {
	return envutil.Int("RABBITMQ_CONNECTION_ATTEMPTS", 10)
}

// RedisJournalConfig builds a journal.Config from the
// REDIS_{HOST,PORT,DB_NUM,PASS} environment variables.
func RedisJournalConfig() journal.Config {
	return journal.Config{
		Host:     envutil.String("REDIS_HOST", "localhost"),
		Port:     envutil.Int("REDIS_PORT", 6379),
		DB:       envutil.Int("REDIS_DB_NUM", 0),
		Password: envutil.String("REDIS_PASS", ""),
	}
}

// MyExchange is this process's own topic exchange, the one the
// Job Watcher publishes lifecycle events to and the Cleanup Handler
// consumes them from.
func MyExchange() string {
	return envutil.String("MY_EXCHANGE", "cdsresponder")
}

// UpstreamExchange is the externally-owned exchange upload requests
// arrive on. Not named by an environment variable in the original
// source (it was a hardcoded literal); exposed here as an override
// with that literal as the default so a deployment can repoint it
// without a code change.
func UpstreamExchange() string {
	return envutil.String("UPSTREAM_EXCHANGE", "pluto-deliverables")
}

// KeepJobs resolves the KEEP_JOBS environment variable per §4.7: a
// case-insensitive yes/true means keep, no/false/absent means delete,
// and any other literal is a configuration error the caller should
// treat as fatal at startup.
func KeepJobs() (bool, error) {
	value, ok := envutil.Bool("KEEP_JOBS", false)
	if raw, _ := envutil.Lookup("KEEP_JOBS"); raw == "1" || raw == "0" {
		ok = false
	}
	if !ok {
		return false, fmt.Errorf("KEEP_JOBS must be set to 'yes'/'true' or 'no'/'false'")
	}
	return value, nil
}

// InmetaPath is where the Launch Handler stages inbound inmeta
// documents before submitting the Job that consumes them.
func InmetaPath() string {
	return envutil.String("INMETA_PATH", "")
}

// InmetaXSD is an explicit override for the inmeta validation schema;
// empty means use the bundled one.
func InmetaXSD() string {
	return envutil.String("INMETA_XSD", "")
}

// TemplatesPath is where the Launch Handler looks for cdsjob.yaml
// before falling back to the bundled and system-wide locations.
func TemplatesPath() string {
	return envutil.String("TEMPLATES_PATH", "")
}

// PodLogsBasepath is where the Cleanup Handler writes harvested pod
// logs; empty disables log harvesting entirely.
func PodLogsBasepath() string {
	return envutil.String("POD_LOGS_BASEPATH", "")
}

// PodNamesBasepath is where the Cleanup Handler records the pod names
// it harvested logs from, keyed by job-id.
func PodNamesBasepath() string {
	return envutil.String("POD_NAMES_BASEPATH", "")
}
