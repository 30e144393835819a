package poller

import (
	"strings"

	"hookrelay/internal/domain"
)

// BuildQuery turns a webhook's trigger filters into a Gmail search query.
// Filters combine with AND; category exclusions are negated terms. The poller
// only ever wants new mail, so is:unread is always present.
func BuildQuery(cfg domain.GmailTriggerConfig) string {
	terms := []string{"is:unread"}

	if cfg.Label != "" {
		terms = append(terms, "label:"+quoteIfSpaced(cfg.Label))
	}
	if cfg.From != "" {
		terms = append(terms, "from:"+cfg.From)
	}
	if cfg.Subject != "" {
		terms = append(terms, "subject:"+quoteIfSpaced(cfg.Subject))
	}
	if cfg.BodyKeyword != "" {
		terms = append(terms, quoteIfSpaced(cfg.BodyKeyword))
	}
	if cfg.HasAttachment {
		terms = append(terms, "has:attachment")
	}
	if cfg.Starred {
		terms = append(terms, "is:starred")
	}
	if cfg.Important {
		terms = append(terms, "is:important")
	}
	for _, cat := range cfg.ExcludeCategories {
		if cat != "" {
			terms = append(terms, "-category:"+strings.ToLower(cat))
		}
	}
	if cfg.After != "" {
		terms = append(terms, "after:"+cfg.After)
	}
	if cfg.Before != "" {
		terms = append(terms, "before:"+cfg.Before)
	}

	return strings.Join(terms, " ")
}

func quoteIfSpaced(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}
