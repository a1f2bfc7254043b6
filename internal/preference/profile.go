package preference

import (
	"sort"
	"strings"
)

// Score is a weighted preference for one genre, author or theme.
type Score struct {
	Name  string  `json:"name"`
	Value float64 `json:"score"`
}

type Bias string

const (
	BiasPositive Bias = "positive"
	BiasNeutral  Bias = "neutral"
	BiasNegative Bias = "negative"
)

// RatingPattern summarizes the stars a user hands out. Distribution[0] counts
// one-star ratings.
type RatingPattern struct {
	Average      float64 `json:"averageRating"`
	Distribution [5]int  `json:"ratingDistribution"`
	Bias         Bias    `json:"ratingBias"`
}

type Era string

const (
	EraClassic      Era = "classic"
	EraModern       Era = "modern"
	EraContemporary Era = "contemporary"
)

// EraOf buckets a publication year. ok is false for years past 2100.
func EraOf(year int) (era Era, ok bool) {
	switch {
	case year <= 1950:
		return EraClassic, true
	case year <= 2000:
		return EraModern, true
	case year <= 2100:
		return EraContemporary, true
	default:
		return "", false
	}
}

type EraCounts struct {
	Classic      float64 `json:"classic"`
	Modern       float64 `json:"modern"`
	Contemporary float64 `json:"contemporary"`
}

func (c *EraCounts) add(era Era, w float64) {
	switch era {
	case EraClassic:
		c.Classic += w
	case EraModern:
		c.Modern += w
	case EraContemporary:
		c.Contemporary += w
	}
}

// preferred returns the era with the highest count. Ties go to the more
// recent era, so all-zero counts yield contemporary.
func (c EraCounts) preferred() Era {
	best, bestCount := EraContemporary, c.Contemporary
	if c.Modern > bestCount {
		best, bestCount = EraModern, c.Modern
	}
	if c.Classic > bestCount {
		best = EraClassic
	}
	return best
}

type PublicationEra struct {
	Counts    EraCounts `json:"counts"`
	Preferred Era       `json:"preferredEra"`
}

// Profile is a user's weighted reading preferences. It is computed on demand
// and never stored.
type Profile struct {
	UserID         string         `json:"userId"`
	GenreScores    []Score        `json:"genreScores"`
	AuthorScores   []Score        `json:"authorScores"`
	ThemeScores    []Score        `json:"themeScores"`
	RatingPattern  RatingPattern  `json:"ratingPattern"`
	PublicationEra PublicationEra `json:"publicationEra"`
	ReviewCount    int            `json:"reviewCount"`
	FavoriteCount  int            `json:"favoriteCount"`
}

// Top returns the names of the first n scores.
func Top(scores []Score, n int) []string {
	if n > len(scores) {
		n = len(scores)
	}
	out := make([]string, 0, n)
	for _, s := range scores[:n] {
		out = append(out, s.Name)
	}
	return out
}

// tally accumulates scores keyed case-insensitively, remembering the first
// spelling and the order keys were first seen.
type tally struct {
	index  map[string]int
	scores []Score
}

func newTally() *tally {
	return &tally{index: make(map[string]int)}
}

func (t *tally) add(name string, w float64) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	key := strings.ToLower(name)
	if i, ok := t.index[key]; ok {
		t.scores[i].Value += w
		return
	}
	t.index[key] = len(t.scores)
	t.scores = append(t.scores, Score{Name: name, Value: w})
}

// sorted returns scores by descending value; equal values keep first-seen order.
func (t *tally) sorted() []Score {
	out := make([]Score, len(t.scores))
	copy(out, t.scores)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

func ratingPattern(ratings []int) RatingPattern {
	var p RatingPattern
	sum, n := 0, 0
	for _, r := range ratings {
		if r < 1 || r > 5 {
			continue
		}
		p.Distribution[r-1]++
		sum += r
		n++
	}

	if n == 0 {
		p.Bias = BiasNeutral
		return p
	}

	p.Average = float64(sum) / float64(n)
	switch {
	case p.Average > 4:
		p.Bias = BiasPositive
	case p.Average < 3:
		p.Bias = BiasNegative
	default:
		p.Bias = BiasNeutral
	}
	return p
}
