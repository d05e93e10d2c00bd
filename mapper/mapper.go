// Package mapper translates provider-native records into the canonical
// Property schema using a per-provider declarative mapping table. Mapping
// is pure: same record and rules in, same property or error out.
package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mlsync/models"
	"mlsync/provider"
)

// MappingError marks one record whose data does not fit the canonical
// schema. The orchestrator converts it into a SyncError for that record and
// continues the batch.
type MappingError struct {
	Field  string // source path
	Target string
	Value  interface{}
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %s -> %s: %s (value %v)", e.Field, e.Target, e.Reason, e.Value)
}

// Map applies the mapping table to one record. Unmapped source fields are
// ignored; a missing required source, an unknown target, or a transform
// failure fails this record only.
func Map(providerID string, rec provider.Record, rules []models.MappingRule) (*models.Property, error) {
	p := &models.Property{
		ProviderID: providerID,
		RawData:    rec.Raw,
	}

	for _, rule := range rules {
		if rule.Transform != "" && !knownTransforms[rule.Transform] {
			return nil, &MappingError{Field: rule.Source, Target: rule.Target, Reason: fmt.Sprintf("unknown transform %q", rule.Transform)}
		}

		value, ok := rec.Lookup(rule.Source)
		if !ok || value == nil {
			if rule.Required {
				return nil, &MappingError{Field: rule.Source, Target: rule.Target, Reason: "required field missing"}
			}
			continue
		}

		if err := assign(p, rule, value); err != nil {
			return nil, err
		}
	}

	// Identity fields are a hard requirement regardless of how the table
	// flags them.
	if p.ExternalID == "" {
		return nil, &MappingError{Target: "external_id", Reason: "no rule produced an external id"}
	}

	if p.Status == "" {
		p.Status = models.PropertyStatusActive
	}

	return p, nil
}

// knownTransforms guards the operator-edited mapping table against typos.
// The target field decides which coercion actually runs; the transform name
// in the table documents it and must match one of these.
var knownTransforms = map[string]bool{
	"price":  true,
	"status": true,
	"int":    true,
	"float":  true,
	"time":   true,
	"string": true,
}

func assign(p *models.Property, rule models.MappingRule, value interface{}) error {
	fail := func(reason string) error {
		return &MappingError{Field: rule.Source, Target: rule.Target, Value: value, Reason: reason}
	}

	switch rule.Target {
	case "external_id":
		s, err := transformString(value)
		if err != nil || s == "" {
			return fail("external id must be a non-empty string")
		}
		p.ExternalID = s
	case "status":
		s, err := transformStatus(value)
		if err != nil {
			return fail(err.Error())
		}
		p.Status = s
	case "price":
		f, err := transformPrice(value)
		if err != nil {
			return fail(err.Error())
		}
		p.Price = &f
	case "street":
		p.Street = stringOr(value)
	case "city":
		p.City = stringOr(value)
	case "state":
		p.State = stringOr(value)
	case "postal_code":
		p.PostalCode = stringOr(value)
	case "beds":
		n, err := transformInt(value)
		if err != nil {
			return fail(err.Error())
		}
		p.Beds = &n
	case "baths":
		f, err := transformFloat(value)
		if err != nil {
			return fail(err.Error())
		}
		p.Baths = &f
	case "sqft":
		n, err := transformInt(value)
		if err != nil {
			return fail(err.Error())
		}
		p.SqFt = &n
	case "lot_sqft":
		n, err := transformInt(value)
		if err != nil {
			return fail(err.Error())
		}
		p.LotSqFt = &n
	case "year_built":
		n, err := transformInt(value)
		if err != nil {
			return fail(err.Error())
		}
		p.YearBuilt = &n
	case "property_type":
		p.PropertyType = stringOr(value)
	case "description":
		p.Description = stringOr(value)
	case "listed_at":
		t, err := transformTime(value)
		if err != nil {
			return fail(err.Error())
		}
		p.ListedAt = &t
	case "modified_at":
		t, err := transformTime(value)
		if err != nil {
			return fail(err.Error())
		}
		p.ModifiedAt = &t
	default:
		return fail("unknown target field")
	}

	return nil
}

// statusAliases folds provider status vocabularies into the canonical set.
var statusAliases = map[string]string{
	"active":         models.PropertyStatusActive,
	"a":              models.PropertyStatusActive,
	"for sale":       models.PropertyStatusActive,
	"new":            models.PropertyStatusActive,
	"pending":        models.PropertyStatusPending,
	"under contract": models.PropertyStatusPending,
	"contingent":     models.PropertyStatusPending,
	"p":              models.PropertyStatusPending,
	"sold":           models.PropertyStatusSold,
	"closed":         models.PropertyStatusSold,
	"s":              models.PropertyStatusSold,
	"withdrawn":      models.PropertyStatusWithdrawn,
	"cancelled":      models.PropertyStatusWithdrawn,
	"canceled":       models.PropertyStatusWithdrawn,
	"w":              models.PropertyStatusWithdrawn,
	"expired":        models.PropertyStatusExpired,
	"x":              models.PropertyStatusExpired,
}

func transformStatus(value interface{}) (string, error) {
	s, err := transformString(value)
	if err != nil {
		return "", err
	}
	canonical, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unrecognized status %q", s)
	}
	return canonical, nil
}

func transformPrice(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("negative price")
		}
		return v, nil
	case int:
		return transformPrice(float64(v))
	case string:
		cleaned := strings.Map(func(r rune) rune {
			switch r {
			case '$', ',', ' ':
				return -1
			}
			return r
		}, v)
		if cleaned == "" {
			return 0, fmt.Errorf("empty price")
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric price %q", v)
		}
		return transformPrice(f)
	default:
		return 0, fmt.Errorf("unsupported price type %T", value)
	}
}

func transformInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if cleaned == "" {
			return 0, fmt.Errorf("empty number")
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", v)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

func transformFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if cleaned == "" {
			return 0, fmt.Errorf("empty number")
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func transformTime(value interface{}) (time.Time, error) {
	s, err := transformString(value)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func transformString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("unsupported string type %T", value)
	}
}

func stringOr(value interface{}) string {
	s, err := transformString(value)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
