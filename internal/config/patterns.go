package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"tender-harvester/internal/models"
)

// DefaultPattern: встроенный шаблон, используется если в конфиге нет ни одного
var DefaultPattern = models.FilterPattern{
	Name:  "kosztorys",
	Label: "Kosztorys (cost estimate)",
	Regex: `kosztorys[a-ząćęłńóśźż]*`,
}

// compilePatterns компилирует шаблоны фильтра без учёта регистра
func (c *Config) compilePatterns() error {
	if len(c.Filter.Patterns) == 0 {
		c.Filter.Patterns = []models.FilterPattern{DefaultPattern}
	}

	compiled := make(map[string]*regexp.Regexp, len(c.Filter.Patterns))
	for _, p := range c.Filter.Patterns {
		if p.Name == "" {
			return fmt.Errorf("filter.patterns: name is required")
		}
		if p.Regex == "" {
			return fmt.Errorf("filter.patterns[%s]: regex is required", p.Name)
		}
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("filter.patterns: duplicate pattern %q", p.Name)
		}
		re, err := regexp.Compile(`(?i)` + p.Regex)
		if err != nil {
			return fmt.Errorf("filter.patterns[%s]: invalid regex: %w", p.Name, err)
		}
		compiled[p.Name] = re
	}

	if c.Filter.DefaultPattern == "" {
		c.Filter.DefaultPattern = c.Filter.Patterns[0].Name
	}
	if _, ok := compiled[c.Filter.DefaultPattern]; !ok {
		return fmt.Errorf("filter.default_pattern %q is not defined", c.Filter.DefaultPattern)
	}

	c.compiledPatterns = compiled
	return nil
}

// Pattern возвращает описание шаблона и скомпилированную регулярку
func (c *Config) Pattern(name string) (models.FilterPattern, *regexp.Regexp, error) {
	if c.compiledPatterns == nil {
		if err := c.compilePatterns(); err != nil {
			return models.FilterPattern{}, nil, err
		}
	}
	for _, p := range c.Filter.Patterns {
		if p.Name == name {
			return p, c.compiledPatterns[name], nil
		}
	}
	return models.FilterPattern{}, nil, fmt.Errorf("pattern %q not found, available: %s", name, strings.Join(c.PatternNames(), ", "))
}

func (c *Config) PatternNames() []string {
	names := make([]string, 0, len(c.Filter.Patterns))
	for _, p := range c.Filter.Patterns {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
