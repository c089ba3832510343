package extract

import (
	"regexp"

	"github.com/JakeFAU/scholar-badge/internal/scholar"
)

// Markup constants of the Scholar profile sidebar.
const (
	StatsTableID   = "gsc_rsb_st"
	StatsCellClass = "gsc_rsb_std"
)

// Strategy names reported in Result.Strategy.
const (
	StrategyContainer = "container"
	StrategyTable     = "table"
	StrategyPattern   = "pattern"
	StrategyDefault   = "default"
)

var citedByPattern = regexp.MustCompile(`"citedby":(\d+)`)

// Strategy is one way of finding the count. Find must be free of side
// effects and return ok only for a non-empty value.
type Strategy struct {
	Name string
	Find func(page *Page) (string, bool)
}

// Result is the outcome of running a strategy chain.
type Result struct {
	Count    scholar.CitationCount
	Strategy string
}

// DefaultStrategies returns the chain used against live profile pages, in
// priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyContainer, Find: firstCellIn("div")},
		{Name: StrategyTable, Find: firstCellIn("table")},
		{Name: StrategyPattern, Find: citedByField},
	}
}

// firstCellIn reads the first stats cell below the <tag id="gsc_rsb_st">
// element.
func firstCellIn(tag string) func(*Page) (string, bool) {
	return func(page *Page) (string, bool) {
		container, ok := page.ElementByID(tag, StatsTableID)
		if !ok {
			return "", false
		}
		cell, ok := container.FirstByClass("td", StatsCellClass)
		if !ok {
			return "", false
		}
		text := cell.Text()
		return text, text != ""
	}
}

// citedByField matches the count embedded in inline script data.
func citedByField(page *Page) (string, bool) {
	m := citedByPattern.FindSubmatch(page.Raw())
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// Run applies strategies in order and returns the first match. An empty chain
// or a chain where nothing matches yields the default count.
func Run(body []byte, strategies []Strategy) Result {
	page := NewPage(body)
	for _, s := range strategies {
		if s.Find == nil {
			continue
		}
		if v, ok := s.Find(page); ok && v != "" {
			return Result{Count: scholar.CitationCount(v), Strategy: s.Name}
		}
	}
	return Result{Count: scholar.DefaultCount, Strategy: StrategyDefault}
}

// Citations runs the default chain over body.
func Citations(body []byte) Result {
	return Run(body, DefaultStrategies())
}
