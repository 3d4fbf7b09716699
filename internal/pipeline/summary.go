package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

// Summary describes one batch run.
type Summary struct {
	Total            int                   `json:"total"`
	Unique           int                   `json:"unique"`
	CacheHits        int                   `json:"cache_hits"`
	Statuses         map[models.Status]int `json:"statuses"`
	Errors           map[string]int        `json:"errors"`
	DisabledAdapters []string              `json:"disabled_adapters,omitempty"`
	Cancelled        bool                  `json:"cancelled"`
	Duration         time.Duration         `json:"duration"`
}

func newSummary(total, unique int) Summary {
	s := Summary{
		Total:    total,
		Unique:   unique,
		Statuses: make(map[models.Status]int, len(models.Statuses)),
		Errors:   make(map[string]int),
	}
	for _, st := range models.Statuses {
		s.Statuses[st] = 0
	}
	return s
}

func (s *Summary) add(na *models.NormalizedAddress, cacheHit bool, kinds []string) {
	s.Statuses[na.Status]++
	if cacheHit {
		s.CacheHits++
	}
	for _, k := range kinds {
		s.Errors[k]++
	}
}

// Log writes the summary as one structured line.
func (s Summary) Log(logger *zap.Logger) {
	fields := []zap.Field{
		zap.Int("total", s.Total),
		zap.Int("unique", s.Unique),
		zap.Int("cache_hits", s.CacheHits),
		zap.Bool("cancelled", s.Cancelled),
		zap.Duration("duration", s.Duration),
		zap.Strings("disabled_adapters", s.DisabledAdapters),
	}
	for _, st := range models.Statuses {
		fields = append(fields, zap.Int("status_"+string(st), s.Statuses[st]))
	}
	for _, k := range s.errorKinds() {
		fields = append(fields, zap.Int("errors_"+k, s.Errors[k]))
	}
	logger.Info("Batch finished", fields...)
}

func (s Summary) errorKinds() []string {
	kinds := make([]string, 0, len(s.Errors))
	for k := range s.Errors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// String renders the summary for terminals.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "records: %d (unique %d, cache hits %d) in %s\n", s.Total, s.Unique, s.CacheHits, s.Duration.Round(time.Millisecond))
	for _, st := range models.Statuses {
		fmt.Fprintf(&b, "  %-18s %d\n", st, s.Statuses[st])
	}
	if kinds := s.errorKinds(); len(kinds) > 0 {
		b.WriteString("errors:\n")
		for _, k := range kinds {
			fmt.Fprintf(&b, "  %-18s %d\n", k, s.Errors[k])
		}
	}
	if len(s.DisabledAdapters) > 0 {
		fmt.Fprintf(&b, "disabled adapters: %s\n", strings.Join(s.DisabledAdapters, ", "))
	}
	if s.Cancelled {
		b.WriteString("run was cancelled\n")
	}
	return b.String()
}
