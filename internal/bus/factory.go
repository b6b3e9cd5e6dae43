package bus

import (
	"fmt"
	"strings"

	"github.com/tablearena/tablearena/internal/config"
	"github.com/tablearena/tablearena/internal/pkg/errors"
	"github.com/tablearena/tablearena/internal/pkg/logger"
)

// NewBus creates the bus described by cfg. When the event log is enabled the
// result is a LoggedBus; the second return value is its EventLogger (nil
// otherwise) so callers can serve the history.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, *EventLogger, error) {
	var inner Bus
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		inner = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		group := cfg.KafkaGroup
		if group == "" {
			group = "tablearena"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: group,
			ClientID:      "tablearena-bus",
			TopicPrefix:   "tablearena.",
		}, log)
		if err != nil {
			return nil, nil, err
		}
		inner = kb

	default:
		return nil, nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if !cfg.EventLogEnabled {
		return inner, nil, nil
	}

	el, err := NewEventLogger(cfg.EventLogPath, true)
	if err != nil {
		inner.Close()
		return nil, nil, fmt.Errorf("opening event log: %w", err)
	}
	el.SkipTopics(TopicEvaluationProgress)
	return NewLoggedBus(inner, el, log), el, nil
}
