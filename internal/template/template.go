// Package template does placeholder substitution for outbound notifications.
// Two syntaxes are in the wild: {field} written by SMS templates and {{field}}
// written by the Gmail card editor. The double-brace form is matched against a
// flattened view of the payload so nested provider payloads still resolve.
package template

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"hookrelay/internal/domain"
)

var (
	doubleBraceRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)
	singleBraceRe = regexp.MustCompile(`\{\s*([a-zA-Z0-9_.\-]+)\s*\}`)
)

// synonymGroups alias common field spellings; within a group the first key
// with a value wins and fills the rest.
var synonymGroups = [][]string{
	{"name", "fullName", "full_name", "firstName", "first_name", "lastName", "last_name"},
	{"email", "emailAddress", "email_address"},
	{"phone", "phoneNumber", "phone_number", "mobile"},
	{"company", "companyName", "company_name"},
	{"message", "comment", "comments"},
	{"address", "street", "address1", "addressLine1"},
	{"city", "town"},
	{"state", "province", "region"},
	{"zip", "zipcode", "postalCode", "postal_code"},
}

// placeholderDefaults keep a rendered notification readable when a field is
// absent; placeholders never survive literally into the output.
var placeholderDefaults = map[string]string{
	"name":      "Lead",
	"fullName":  "Lead",
	"full_name": "Lead",
	"firstName": "Lead",
	"email":     "No email",
	"phone":     "No phone",
}

// Render substitutes {field} placeholders. Unknown fields resolve to their
// default, or empty.
func Render(tmpl string, vars map[string]string) string {
	return singleBraceRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := singleBraceRe.FindStringSubmatch(m)[1]
		return lookup(key, vars)
	})
}

// RenderFlat substitutes {{field}} placeholders against a flattened payload.
func RenderFlat(tmpl string, flat map[string]string) string {
	return doubleBraceRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := doubleBraceRe.FindStringSubmatch(m)[1]
		return lookup(key, flat)
	})
}

func lookup(key string, vars map[string]string) string {
	if v, ok := vars[key]; ok && v != "" {
		return v
	}
	if d, ok := placeholderDefaults[key]; ok {
		return d
	}
	return ""
}

// Vars builds the substitution map for the single-brace path: canonical
// contact fields first, then raw payload keys that don't collide.
func Vars(fields domain.ContactFields, payload map[string]any) map[string]string {
	vars := map[string]string{
		"name":    fields.Name,
		"email":   fields.Email,
		"phone":   fields.Phone,
		"company": fields.Company,
		"message": fields.Message,
	}
	for k, raw := range payload {
		if _, taken := vars[k]; taken {
			continue
		}
		if s, ok := scalarString(raw); ok {
			vars[k] = s
		}
	}
	applySynonyms(vars)
	return vars
}

// Flatten walks nested objects and exposes every scalar leaf under both its
// leaf key and its dotted path, then fills in synonyms.
func Flatten(payload map[string]any) map[string]string {
	flat := map[string]string{}
	flattenInto(flat, "", payload)
	applySynonyms(flat)
	return flat
}

func flattenInto(flat map[string]string, prefix string, obj map[string]any) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			flattenInto(flat, path, t)
		default:
			if s, ok := scalarString(v); ok {
				if _, exists := flat[k]; !exists {
					flat[k] = s
				}
				flat[path] = s
			}
		}
	}
}

func applySynonyms(m map[string]string) {
	for _, group := range synonymGroups {
		val := ""
		for _, k := range group {
			if v, ok := m[k]; ok && v != "" {
				val = v
				break
			}
		}
		if val == "" {
			continue
		}
		for _, k := range group {
			if v, ok := m[k]; !ok || v == "" {
				m[k] = val
			}
		}
	}
}

// DefaultSubject is the structured fallback subject used whenever a
// field-driven template renders empty.
func DefaultSubject(fields domain.ContactFields) string {
	name := fields.Name
	if name == "" {
		name = "Lead"
	}
	return "New lead: " + name
}

// DefaultBody is the structured fallback body: contact fields as an HTML
// list, custom fields appended in stable order.
func DefaultBody(fields domain.ContactFields) string {
	var b strings.Builder
	b.WriteString("<h2>New webhook lead</h2><ul>")
	writeItem(&b, "Name", fields.Name)
	writeItem(&b, "Email", fields.Email)
	writeItem(&b, "Phone", fields.Phone)
	writeItem(&b, "Company", fields.Company)
	writeItem(&b, "Message", fields.Message)

	keys := make([]string, 0, len(fields.Custom))
	for k := range fields.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeItem(&b, strings.TrimPrefix(k, "custom_"), fields.Custom[k])
	}
	b.WriteString("</ul>")
	return b.String()
}

// DefaultSMS is the plain-text fallback used when an SMS template renders
// empty.
func DefaultSMS(fields domain.ContactFields) string {
	parts := []string{"New lead: " + valueOr(fields.Name, "Lead")}
	if fields.Phone != "" {
		parts = append(parts, fields.Phone)
	}
	if fields.Email != "" {
		parts = append(parts, fields.Email)
	}
	return strings.Join(parts, ", ")
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func writeItem(b *strings.Builder, label, val string) {
	if val == "" {
		return
	}
	fmt.Fprintf(b, "<li><strong>%s:</strong> %s</li>", html.EscapeString(label), html.EscapeString(val))
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
