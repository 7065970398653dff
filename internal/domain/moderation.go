package domain

// ModerationVerdict is the classification of one text.
type ModerationVerdict struct {
	// Flagged is true when any category was violated.
	Flagged bool `json:"flagged"`

	// Categories lists the violated categories, sorted.
	Categories []string `json:"categories,omitempty"`

	// Degraded marks an ambiguous verdict after the moderation service kept failing.
	// Flagged carries no meaning when Degraded is set.
	Degraded bool `json:"degraded,omitempty"`

	// Detail explains a degraded verdict.
	Detail string `json:"detail,omitempty"`
}

// CleanVerdict is the verdict for text that violates nothing.
func CleanVerdict() ModerationVerdict {
	return ModerationVerdict{}
}
