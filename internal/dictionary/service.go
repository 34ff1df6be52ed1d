package dictionary

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"riskcfg/internal/config"
	"riskcfg/internal/logger"
	"riskcfg/internal/versioning"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/metrics"
)

const (
	TypeVersionStatus = "versionStatus"
	TypeConfigType    = "configType"
	TypeChangeType    = "changeType"
)

// Service serves option lists from an in-memory snapshot. The snapshot changes only on
// Refresh, which callers trigger explicitly or through StartReloader.
type Service struct {
	repo    Repository
	cfg     config.DictionaryConfig
	logger  logger.Logger
	builtin map[string][]Option

	mu        sync.RWMutex
	dicts     map[string][]Option
	refreshes singleflight.Group
}

// NewService starts with the built-in dictionaries only. repo may be nil.
func NewService(repo Repository, cfg config.DictionaryConfig, log logger.Logger) *Service {
	builtin := builtinDictionaries()
	s := &Service{
		repo:    repo,
		cfg:     cfg,
		logger:  log.With("component", "dictionary"),
		builtin: builtin,
	}
	s.dicts = merge(builtin, nil, nil)
	return s
}

func builtinDictionaries() map[string][]Option {
	statuses := make([]Option, 0, len(versioning.AllStatuses))
	for _, st := range versioning.AllStatuses {
		statuses = append(statuses, Option{Value: string(st), Label: humanize(string(st))})
	}

	configTypes := []Option{{Value: string(versioning.ConfigTypeVersion), Label: "Version"}}
	for _, t := range versioning.ArtifactTypes {
		configTypes = append(configTypes, Option{Value: string(t), Label: humanize(string(t))})
	}

	changeTypes := make([]Option, 0, len(versioning.AllChangeTypes))
	for _, c := range versioning.AllChangeTypes {
		changeTypes = append(changeTypes, Option{Value: string(c), Label: humanize(string(c))})
	}

	return map[string][]Option{
		TypeVersionStatus: statuses,
		TypeConfigType:    configTypes,
		TypeChangeType:    changeTypes,
	}
}

// humanize turns DERIVE_FIELD into "Derive field".
func humanize(code string) string {
	s := strings.ToLower(strings.ReplaceAll(code, "_", " "))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// merge builds a snapshot. Built-in types win over stored items of the same type.
func merge(builtin map[string][]Option, items []Item, onShadowed func(Item)) map[string][]Option {
	out := make(map[string][]Option, len(builtin))
	for t, opts := range builtin {
		out[t] = append([]Option(nil), opts...)
	}
	for _, it := range items {
		if _, ok := builtin[it.DictType]; ok {
			if onShadowed != nil {
				onShadowed(it)
			}
			continue
		}
		out[it.DictType] = append(out[it.DictType], Option{Value: it.Code, Label: it.Label})
	}
	return out
}

// Options returns a copy of the options of dictType in display order.
func (s *Service) Options(dictType string) ([]Option, error) {
	s.mu.RLock()
	opts, ok := s.dicts[dictType]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("unknown dictionary: " + dictType).WithDetail("dictType", dictType)
	}
	return append([]Option(nil), opts...), nil
}

func (s *Service) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.dicts))
	for t := range s.dicts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Refresh reloads stored dictionaries. Concurrent calls share one load. On failure the
// previous snapshot stays in place.
func (s *Service) Refresh(ctx context.Context) (*RefreshResult, error) {
	res, err, _ := s.refreshes.Do("refresh", func() (interface{}, error) {
		return s.load(ctx)
	})
	if err != nil {
		metrics.DictionaryReloadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.DictionaryReloadsTotal.WithLabelValues("ok").Inc()
	return res.(*RefreshResult), nil
}

func (s *Service) load(ctx context.Context) (*RefreshResult, error) {
	var items []Item
	if s.repo != nil {
		var err error
		items, err = s.repo.ListEnabled(ctx)
		if err != nil {
			return nil, errors.WrapIfPlain(err, errors.ErrStorage)
		}
	}

	next := merge(s.builtin, items, func(it Item) {
		s.logger.WarnwCtx(ctx, "Stored dictionary item shadowed by built-in dictionary",
			"dict_type", it.DictType,
			"code", it.Code,
		)
	})

	s.mu.Lock()
	s.dicts = next
	s.mu.Unlock()

	result := &RefreshResult{Types: len(next), Items: make(map[string]int, len(next))}
	for t, opts := range next {
		result.Items[t] = len(opts)
		metrics.DictionaryItems.WithLabelValues(t).Set(float64(len(opts)))
	}
	s.logger.InfowCtx(ctx, "Dictionaries reloaded", "types", result.Types, "stored_items", len(items))
	return result, nil
}

// StartReloader refreshes immediately and then every ReloadInterval until ctx is done.
func (s *Service) StartReloader(ctx context.Context) error {
	interval := s.cfg.ReloadInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload dictionaries", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.applyJitter(ctx); err != nil {
				return err
			}
			if _, err := s.Refresh(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload dictionaries", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyJitter spreads reloads of several replicas over a short window.
func (s *Service) applyJitter(ctx context.Context) error {
	if s.cfg.JitterMaxMilliseconds <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Intn(s.cfg.JitterMaxMilliseconds)) * time.Millisecond
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
