// Package extract derives normalized contact fields from arbitrary webhook
// payloads. Form providers disagree wildly on key names, so each canonical
// field carries an ordered candidate list and the first present key wins.
package extract

import (
	"fmt"
	"sort"
	"strconv"

	"hookrelay/internal/domain"
)

type candidate struct {
	field string
	keys  []string
}

// Candidate order is part of the contract: extraction must be deterministic
// for a given payload, so never reorder entries, only append.
var candidates = []candidate{
	{"email", []string{"email", "Email", "EMAIL", "email_address", "emailAddress", "e-mail", "mail", "contact_email", "contactEmail"}},
	{"name", []string{"name", "Name", "NAME", "full_name", "fullName", "fullname", "first_name", "firstName", "contact_name", "contactName", "your-name"}},
	{"phone", []string{"phone", "Phone", "PHONE", "phone_number", "phoneNumber", "phonenumber", "mobile", "mobile_number", "mobileNumber", "tel", "telephone", "contact_phone", "contactPhone", "number"}},
	{"company", []string{"company", "Company", "COMPANY", "company_name", "companyName", "organization", "organisation", "business", "business_name"}},
	{"message", []string{"message", "Message", "MESSAGE", "comment", "comments", "notes", "note", "description", "inquiry", "enquiry", "body", "text"}},
}

// Extract maps a raw payload onto ContactFields. Total and pure: type
// mismatches degrade to "field absent" and unclaimed keys are preserved under
// a custom_ prefix so nothing is silently dropped.
func Extract(payload map[string]any) domain.ContactFields {
	fields := domain.ContactFields{Custom: map[string]string{}}
	claimed := map[string]bool{}

	for _, c := range candidates {
		for _, key := range c.keys {
			v, ok := payload[key]
			if !ok {
				continue
			}
			s, ok := stringify(v)
			if !ok || s == "" {
				continue
			}
			switch c.field {
			case "email":
				fields.Email = s
			case "name":
				fields.Name = s
			case "phone":
				fields.Phone = s
			case "company":
				fields.Company = s
			case "message":
				fields.Message = s
			}
			claimed[key] = true
			break
		}
	}

	// Sorted so repeated runs over the same payload are byte-identical.
	rest := make([]string, 0, len(payload))
	for k := range payload {
		if !claimed[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if s, ok := stringify(payload[k]); ok {
			fields.Custom["custom_"+k] = s
		}
	}
	return fields
}

// stringify renders scalar JSON values; objects and arrays report not-ok.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case fmt.Stringer:
		return t.String(), true
	case nil:
		return "", false
	default:
		return "", false
	}
}
