package recommend

import (
	"fmt"
	"strings"

	"bookrec/internal/preference"
)

// SuggestionCount is how many books the model is asked for.
const SuggestionCount = 10

const systemPrompt = "You are a knowledgeable literary assistant who recommends books " +
	"tailored to each reader's tastes. You always answer with valid JSON only."

// BuildPrompt renders a profile into the user message sent to the model.
// The output depends only on its inputs.
func BuildPrompt(p *preference.Profile, genre string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Based on the following reading preferences, recommend exactly %d books.\n\n", SuggestionCount)
	fmt.Fprintf(&b, "Favorite genres: %s\n", listOr(preference.Top(p.GenreScores, 3), "Various"))
	fmt.Fprintf(&b, "Favorite authors: %s\n", listOr(preference.Top(p.AuthorScores, 3), "Various"))
	fmt.Fprintf(&b, "Themes of interest: %s\n", listOr(preference.Top(p.ThemeScores, 3), "Various"))
	fmt.Fprintf(&b, "Rating tendency: %s (average rating %.1f)\n",
		p.RatingPattern.Bias, p.RatingPattern.Average)
	fmt.Fprintf(&b, "Preferred publication era: %s\n", eraLabel(p.PublicationEra))

	if genre != "" {
		fmt.Fprintf(&b, "\nFocus on books in the %s genre.\n", genre)
	}

	fmt.Fprintf(&b, "\nRespond with a JSON array of exactly %d objects. Each object must have the fields ", SuggestionCount)
	b.WriteString(`"title", "author", "genre", "year" and "reason", where "reason" briefly explains `)
	b.WriteString("why the book fits this reader. Mix well-known titles with lesser-known ones and ")
	b.WriteString("do not include any text outside the JSON array.")

	return b.String()
}

func listOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func eraLabel(e preference.PublicationEra) string {
	if e.Counts == (preference.EraCounts{}) {
		return "any"
	}
	return string(e.Preferred)
}
