package preference

import "strings"

// FavoriteWeight is the score a favorited book contributes.
const FavoriteWeight = 2.0

// ReviewWeight maps a star rating to the score the reviewed book contributes.
// Ratings outside 1..5 weigh nothing.
func ReviewWeight(rating int) float64 {
	switch rating {
	case 5:
		return 2.0
	case 4:
		return 1.5
	case 3:
		return 1.0
	case 2:
		return 0.5
	case 1:
		return 0.25
	default:
		return 0
	}
}

// themesByGenre maps a lower-cased genre to the themes readers of that genre
// tend to look for. Genres can share themes.
var themesByGenre = map[string][]string{
	"fantasy":            {"magic", "adventure", "good vs evil", "world-building"},
	"science fiction":    {"technology", "space exploration", "future societies", "what-if scenarios"},
	"sci-fi":             {"technology", "space exploration", "future societies", "what-if scenarios"},
	"mystery":            {"puzzles", "investigation", "suspense"},
	"thriller":           {"suspense", "danger", "high stakes"},
	"crime":              {"investigation", "justice", "moral ambiguity"},
	"romance":            {"love", "relationships", "emotional journeys"},
	"horror":             {"fear", "the supernatural", "suspense"},
	"historical":         {"history", "historical events", "period settings"},
	"historical fiction": {"history", "historical events", "period settings"},
	"literary fiction":   {"character studies", "human condition", "relationships"},
	"classic":            {"human condition", "social commentary", "timeless themes"},
	"dystopian":          {"future societies", "social commentary", "survival"},
	"adventure":          {"adventure", "exploration", "survival"},
	"young adult":        {"coming of age", "identity", "friendship"},
	"biography":          {"real lives", "personal growth", "history"},
	"memoir":             {"real lives", "personal growth", "reflection"},
	"self-help":          {"personal growth", "productivity", "wellbeing"},
	"philosophy":         {"ideas", "ethics", "human condition"},
	"poetry":             {"language", "emotion", "reflection"},
	"humor":              {"comedy", "satire", "lighthearted"},
}

// themesFor returns the themes associated with genre, or nil.
func themesFor(genre string) []string {
	return themesByGenre[strings.ToLower(strings.TrimSpace(genre))]
}
