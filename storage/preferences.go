package storage

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"miku/model"
)

// PreferencesStore keeps the include/exclude domain lists used to narrow
// web search.
type PreferencesStore struct {
	store *Store
}

func decodePreferences(raw []byte) (model.DomainPreferences, bool) {
	var p model.DomainPreferences
	if len(raw) == 0 {
		return p.Normalized(), true
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.DomainPreferences{}.Normalized(), false
	}
	return p.Normalized(), true
}

// Load returns the saved preferences. Unparseable data falls back to empty
// lists.
func (p *PreferencesStore) Load() (model.DomainPreferences, error) {
	raw, _, err := get(p.store.db, KeyDomainPreferences)
	if err != nil {
		return model.DomainPreferences{}.Normalized(), err
	}
	prefs, ok := decodePreferences(raw)
	if !ok {
		p.store.logger.Warn("failed to parse domain preferences, using defaults")
	}
	return prefs, nil
}

// Save replaces the stored preferences.
func (p *PreferencesStore) Save(prefs model.DomainPreferences) error {
	return p.modify(func(model.DomainPreferences) model.DomainPreferences { return prefs })
}

func (p *PreferencesStore) modify(fn func(model.DomainPreferences) model.DomainPreferences) error {
	err := p.store.db.update(KeyDomainPreferences, func(current []byte) ([]byte, error) {
		prefs, _ := decodePreferences(current)
		prefs = fn(prefs).Normalized()
		data, err := json.Marshal(prefs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal domain preferences: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	p.store.logger.Debug("domain preferences updated", zap.String("key", KeyDomainPreferences))
	p.store.changed(KeyDomainPreferences)
	return nil
}

func addDomain(list []string, domain string) []string {
	if slices.Contains(list, domain) {
		return list
	}
	return append(list, domain)
}

func removeDomain(list []string, domain string) []string {
	return slices.DeleteFunc(slices.Clone(list), func(d string) bool { return d == domain })
}

// AddInclude adds a domain to search within. Blank input is ignored.
func (p *PreferencesStore) AddInclude(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil
	}
	return p.modify(func(prefs model.DomainPreferences) model.DomainPreferences {
		prefs.IncludeDomains = addDomain(prefs.IncludeDomains, domain)
		return prefs
	})
}

func (p *PreferencesStore) RemoveInclude(domain string) error {
	return p.modify(func(prefs model.DomainPreferences) model.DomainPreferences {
		prefs.IncludeDomains = removeDomain(prefs.IncludeDomains, strings.TrimSpace(domain))
		return prefs
	})
}

// AddExclude adds a domain to keep out of search results. Blank input is ignored.
func (p *PreferencesStore) AddExclude(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil
	}
	return p.modify(func(prefs model.DomainPreferences) model.DomainPreferences {
		prefs.ExcludeDomains = addDomain(prefs.ExcludeDomains, domain)
		return prefs
	})
}

func (p *PreferencesStore) RemoveExclude(domain string) error {
	return p.modify(func(prefs model.DomainPreferences) model.DomainPreferences {
		prefs.ExcludeDomains = removeDomain(prefs.ExcludeDomains, strings.TrimSpace(domain))
		return prefs
	})
}

// Clear empties both lists.
func (p *PreferencesStore) Clear() error {
	return p.Save(model.DomainPreferences{})
}
