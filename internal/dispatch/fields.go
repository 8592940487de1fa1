package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"registry/internal/models"
	"registry/internal/service"
	"registry/internal/validation"
)

// Fields is a raw field map. Values are strings, except item which may also
// be a list of strings.
type Fields map[string]any

// Field names accepted by commands.
const (
	FieldRequestID = "request_id"
	FieldItem      = "item"
	FieldSite      = "site"
	FieldGroup     = "group"
	FieldN         = "n"
	FieldStatus    = "status"
)

var commonFields = map[string]bool{FieldRequestID: true, FieldItem: true, FieldSite: true}

var copyFields = map[string]bool{
	FieldRequestID: true, FieldItem: true, FieldSite: true, FieldGroup: true, FieldN: true,
}

var listFields = map[string]bool{FieldItem: true, FieldSite: true, FieldStatus: true}

func allowedFields(command string) map[string]bool {
	if command == CommandCopy {
		return copyFields
	}
	return commonFields
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkAllowed(operation string, fields Fields, allowed map[string]bool) error {
	for _, k := range sortedKeys(fields) {
		if !allowed[k] {
			return models.NewBadRequestErrorf("Field %q not allowed for operation %q.", k, operation)
		}
	}
	return nil
}

func invalid(err error) error {
	return models.NewBadRequestError("Invalid value: " + err.Error())
}

func scalar(field string, v any) (string, error) {
	switch val := v.(type) {
	case string:
		if err := validation.ValidateFieldString(field, val); err != nil {
			return "", invalid(err)
		}
		return val, nil
	case []string:
		if len(val) == 1 {
			return scalar(field, val[0])
		}
	}
	return "", invalid(fmt.Errorf("field %q must be a single value", field))
}

// itemSet normalizes item into a set. A plain value without commas stays a
// single item; a comma-separated value or a list is a set. Each member is
// validated on its own.
func itemSet(v any) (models.ItemFilter, error) {
	var raw []string
	single := false
	switch val := v.(type) {
	case string:
		raw = validation.SplitItems(val)
		single = !strings.Contains(val, ",")
	case []string:
		raw = validation.CleanItems(val)
	default:
		return models.ItemFilter{}, invalid(fmt.Errorf("field %q must be a string or a list of strings", FieldItem))
	}
	for _, it := range raw {
		if err := validation.ValidateFieldString(FieldItem, it); err != nil {
			return models.ItemFilter{}, invalid(err)
		}
	}
	if single && len(raw) == 1 {
		return models.SingleItem(raw[0]), nil
	}
	return models.Items(raw...), nil
}

// sanitize applies the command's allow-list and coerces every field once.
func sanitize(command string, fields Fields) (service.RequestParams, error) {
	var p service.RequestParams
	if err := checkAllowed(command, fields, allowedFields(command)); err != nil {
		return p, err
	}

	for _, k := range sortedKeys(fields) {
		v := fields[k]
		if k == FieldItem {
			items, err := itemSet(v)
			if err != nil {
				return p, err
			}
			p.Items = items
			continue
		}

		s, err := scalar(k, v)
		if err != nil {
			return p, err
		}
		switch k {
		case FieldRequestID:
			id, err := validation.ParsePositiveInt(k, s, 1)
			if err != nil {
				return p, invalid(err)
			}
			p.RequestID = uint(id)
		case FieldN:
			n, err := validation.ParseIntInRange(k, s, 1, validation.MaxCopies)
			if err != nil {
				return p, invalid(err)
			}
			p.N = &n
		case FieldSite:
			if err := validation.ValidateMaxBytes(k, s, validation.MaxSiteBytes); err != nil {
				return p, invalid(err)
			}
			p.Site = &s
		case FieldGroup:
			if err := validation.ValidateMaxBytes(k, s, validation.MaxGroupBytes); err != nil {
				return p, invalid(err)
			}
			p.Group = &s
		}
	}
	return p, nil
}

// sanitizeListing coerces the admin listing filter for family.
func sanitizeListing(family models.Family, fields Fields) (service.AdminFilter, error) {
	var f service.AdminFilter
	if err := checkAllowed("list", fields, listFields); err != nil {
		return f, err
	}

	for _, k := range sortedKeys(fields) {
		v := fields[k]
		switch k {
		case FieldItem:
			items, err := itemSet(v)
			if err != nil {
				return f, err
			}
			f.Items = items
		case FieldSite:
			s, err := scalar(k, v)
			if err != nil {
				return f, err
			}
			f.Site = &s
		case FieldStatus:
			s, err := scalar(k, v)
			if err != nil {
				return f, err
			}
			for _, st := range validation.SplitItems(s) {
				status := models.RequestStatus(strings.ToLower(st))
				if !family.ValidStatus(status) {
					return f, models.NewBadRequestErrorf("Invalid status %q for %s requests", st, family)
				}
				f.Statuses = append(f.Statuses, status)
			}
		}
	}
	return f, nil
}
