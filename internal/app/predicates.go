package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tender-harvester/internal/config"
	"tender-harvester/internal/models"
)

// Predicates: условия включения тендера в выборку при --use-filters
type Predicates struct {
	minDate time.Time
	// maxDate: исключающая граница: день после max_initiation_date
	maxDate time.Time
	allowed map[string]map[string]struct{}
}

func NewPredicates(cfg *config.Config) (*Predicates, error) {
	minDate, err := cfg.MinInitiationDate()
	if err != nil {
		return nil, err
	}
	maxDate, err := cfg.MaxInitiationDate()
	if err != nil {
		return nil, err
	}
	if !maxDate.IsZero() {
		maxDate = maxDate.AddDate(0, 0, 1)
	}

	allowed := make(map[string]map[string]struct{}, len(cfg.Harvest.Filters.Allowed))
	for field, values := range cfg.Harvest.Filters.Allowed {
		if len(values) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
		}
		allowed[field] = set
	}

	return &Predicates{minDate: minDate, maxDate: maxDate, allowed: allowed}, nil
}

// Accept возвращает false и причину, если тендер не проходит фильтры
func (p *Predicates) Accept(s *models.Summary) (bool, string) {
	if !p.minDate.IsZero() || !p.maxDate.IsZero() {
		if s.InitiationDate.IsZero() {
			return false, "no initiation date"
		}
		if !p.minDate.IsZero() && s.InitiationDate.Before(p.minDate) {
			return false, "initiation date before min"
		}
		if !p.maxDate.IsZero() && !s.InitiationDate.Before(p.maxDate) {
			return false, "initiation date after max"
		}
	}

	for field, set := range p.allowed {
		if !matchesAny(s.Fields[field], set) {
			return false, fmt.Sprintf("%s not allowed", field)
		}
	}
	return true, ""
}

// matchesAny: скаляр сравнивается напрямую, у массива достаточно одного совпадения
func matchesAny(v any, set map[string]struct{}) bool {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if matchesAny(item, set) {
				return true
			}
		}
		return false
	}

	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = fmt.Sprint(t)
	case bool:
		s = fmt.Sprint(t)
	default:
		return false
	}
	_, ok := set[strings.ToLower(strings.TrimSpace(s))]
	return ok
}
