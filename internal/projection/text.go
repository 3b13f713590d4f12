package projection

import "strings"

// EventText renders an event as the single string fed to the text encoder:
//
//	Title: {title} | Description: {description} | Tags: {a, b} | Hosted by: {club} | Category: {category}
//
// Tags, hosting club and category are omitted when empty.
func EventText(title, description string, tags []string, hostingClub, category string) string {
	parts := []string{"Title: " + title, "Description: " + description}
	if len(tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(tags, ", "))
	}
	if hostingClub != "" {
		parts = append(parts, "Hosted by: "+hostingClub)
	}
	if category != "" {
		parts = append(parts, "Category: "+category)
	}
	return strings.Join(parts, " | ")
}

// UserTexts renders a user profile as one string per field. Each is encoded
// separately and the embeddings are mean-pooled.
func UserTexts(major, year string, interests, attended []string) []string {
	texts := make([]string, 0, 3+len(attended))
	texts = append(texts,
		"Major: "+major,
		"Year: "+year,
		"Interests: "+strings.Join(interests, ", "),
	)
	for _, a := range attended {
		texts = append(texts, "Attended: "+a)
	}
	return texts
}
