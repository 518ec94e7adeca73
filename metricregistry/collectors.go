package metricregistry

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// BaseCollector provides basic collector functionality
type BaseCollector struct {
	name   string
	logger *zap.Logger
	mutex  sync.RWMutex
}

// Name implements Collector interface
func (b *BaseCollector) Name() string {
	return b.name
}

// NewBaseCollector creates a base collector
func NewBaseCollector(name string, logger *zap.Logger) BaseCollector {
	return BaseCollector{
		name:   name,
		logger: logger,
	}
}

// formatKey combines a metric name and a flattened label list into a
// single map key, and returns the reconstructed label map. Labels are
// provided as [key1, value1, key2, value2, ...].
func formatKey(metricName string, labels []string) (string, map[string]string) {
	labelMap := make(map[string]string, len(labels)/2)
	var b strings.Builder
	b.WriteString(metricName)
	for i := 0; i+1 < len(labels); i += 2 {
		labelMap[labels[i]] = labels[i+1]
		b.WriteByte('|')
		b.WriteString(labels[i])
		b.WriteByte('=')
		b.WriteString(labels[i+1])
	}
	return b.String(), labelMap
}
