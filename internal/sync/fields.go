package sync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldKind tags how a declared field is compared and rendered.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindDate   FieldKind = "date"
	KindList   FieldKind = "list"
)

// FieldSpec declares one comparable field of an entity type. Identity,
// creation/update timestamps and sync bookkeeping fields are simply not
// declared, which keeps them out of conflict analysis.
type FieldSpec struct {
	Name        string
	DisplayName string
	Kind        FieldKind
}

// entityFields maps entity type to its declared comparable fields. A static
// table instead of reflection: adding an entity means adding a row here.
var entityFields = map[string][]FieldSpec{
	"customer": {
		{Name: "name", DisplayName: "Name", Kind: KindString},
		{Name: "phone", DisplayName: "Phone", Kind: KindString},
		{Name: "email", DisplayName: "Email", Kind: KindString},
		{Name: "address", DisplayName: "Address", Kind: KindString},
		{Name: "city", DisplayName: "City", Kind: KindString},
		{Name: "notes", DisplayName: "Notes", Kind: KindString},
		{Name: "active", DisplayName: "Active", Kind: KindBool},
		{Name: "balance", DisplayName: "Balance", Kind: KindNumber},
	},
	"job": {
		{Name: "title", DisplayName: "Title", Kind: KindString},
		{Name: "description", DisplayName: "Description", Kind: KindString},
		{Name: "status", DisplayName: "Status", Kind: KindString},
		{Name: "technician", DisplayName: "Technician", Kind: KindString},
		{Name: "site_address", DisplayName: "Site Address", Kind: KindString},
		{Name: "scheduled_at", DisplayName: "Scheduled", Kind: KindDate},
		{Name: "labor_hours", DisplayName: "Labor Hours", Kind: KindNumber},
		{Name: "completed", DisplayName: "Completed", Kind: KindBool},
		{Name: "parts", DisplayName: "Parts", Kind: KindList},
	},
	"invoice": {
		{Name: "number", DisplayName: "Invoice Number", Kind: KindString},
		{Name: "status", DisplayName: "Status", Kind: KindString},
		{Name: "amount", DisplayName: "Amount", Kind: KindNumber},
		{Name: "tax", DisplayName: "Tax", Kind: KindNumber},
		{Name: "due_date", DisplayName: "Due Date", Kind: KindDate},
		{Name: "paid", DisplayName: "Paid", Kind: KindBool},
		{Name: "line_items", DisplayName: "Line Items", Kind: KindList},
	},
	"inventory_item": {
		{Name: "name", DisplayName: "Name", Kind: KindString},
		{Name: "description", DisplayName: "Description", Kind: KindString},
		{Name: "location", DisplayName: "Location", Kind: KindString},
		{Name: "barcode", DisplayName: "Barcode", Kind: KindString},
		{Name: "quantity", DisplayName: "Quantity", Kind: KindNumber},
		{Name: "unit_cost", DisplayName: "Unit Cost", Kind: KindNumber},
	},
}

// FieldsFor returns the declared comparable fields for an entity type.
// Unknown types get an empty set.
func FieldsFor(entityType string) []FieldSpec {
	return entityFields[entityType]
}

// fieldEqual compares two decoded JSON values with natural equality for the
// declared kind. Lists compare by ordered sequence equality.
func fieldEqual(kind FieldKind, a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch kind {
	case KindNumber:
		fa, aok := toFloat(a)
		fb, bok := toFloat(b)
		if aok && bok {
			return fa == fb
		}
	case KindDate:
		ta, aok := toTime(a)
		tb, bok := toTime(b)
		if aok && bok {
			return ta.Equal(tb)
		}
	case KindList:
		la, aok := a.([]interface{})
		lb, bok := b.([]interface{})
		if aok && bok {
			if len(la) != len(lb) {
				return false
			}
			for i := range la {
				if formatValue(KindString, la[i]) != formatValue(KindString, lb[i]) {
					return false
				}
			}
			return true
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// formatValue renders a field value for display: dates short-form, numbers
// at two decimals, booleans as Yes/No, nil as "(empty)".
func formatValue(kind FieldKind, v interface{}) string {
	if v == nil {
		return "(empty)"
	}

	switch kind {
	case KindNumber:
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			if b {
				return "Yes"
			}
			return "No"
		}
	case KindDate:
		if t, ok := toTime(v); ok {
			return t.Format("Jan 2, 2006")
		}
	case KindList:
		if list, ok := v.([]interface{}); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = formatValue(KindString, item)
			}
			return strings.Join(parts, ", ")
		}
	}

	if s, ok := v.(string); ok {
		if s == "" {
			return "(empty)"
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

// isZeroValue reports whether a decoded JSON value is null or the kind's
// default, used by the merge strategy's non-conflicting-field rule.
func isZeroValue(kind FieldKind, v interface{}) bool {
	if v == nil {
		return true
	}
	switch kind {
	case KindString, KindDate:
		s, ok := v.(string)
		return ok && s == ""
	case KindNumber:
		f, ok := toFloat(v)
		return ok && f == 0
	case KindBool:
		b, ok := v.(bool)
		return ok && !b
	case KindList:
		l, ok := v.([]interface{})
		return ok && len(l) == 0
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
