package adapters

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"mfcsync/internal/logging/types"
)

// LogrusAdapter implements the LogAdapter interface on top of logrus, for
// deployments that already ship a logrus-based log pipeline (structured
// text/JSON to stdout, picked up by an external collector).
type LogrusAdapter struct {
	name   string
	log    *logrus.Logger
	mu     sync.Mutex
	closed bool
}

// LogrusConfig represents configuration for the logrus adapter
type LogrusConfig struct {
	Format string `yaml:"format"` // json or text
}

// NewLogrusAdapter creates a new logrus adapter writing to stdout.
func NewLogrusAdapter(name string, config LogrusConfig) *LogrusAdapter {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if config.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return &LogrusAdapter{name: name, log: log}
}

func (a *LogrusAdapter) Write(entry *types.LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}

	fields := make(logrus.Fields, len(entry.Fields))
	for k, v := range entry.Fields {
		fields[k] = v
	}

	e := a.log.WithFields(fields).WithTime(entry.Timestamp)
	switch entry.Level {
	case types.DebugLevel:
		e.Debug(entry.Message)
	case types.InfoLevel:
		e.Info(entry.Message)
	case types.WarnLevel:
		e.Warn(entry.Message)
	case types.ErrorLevel:
		e.Error(entry.Message)
	case types.FatalLevel:
		e.Error(entry.Message) // Fatal would os.Exit; the manager owns process lifetime.
	default:
		e.Info(entry.Message)
	}
	return nil
}

func (a *LogrusAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *LogrusAdapter) Health() error {
	return nil
}

func (a *LogrusAdapter) Name() string {
	return a.name
}
