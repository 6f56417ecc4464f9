package report

import "github.com/marketlens/trend_reports/internal/models"

// Selection is the set of entity names the user has narrowed a category tab
// to, plus an independent campaign-name filter used only by search terms.
// An empty selection means "everything".
type Selection struct {
	Entities  map[string]struct{}
	Campaigns map[string]struct{}
}

// NewSelection builds a Selection from name lists. Empty lists stay nil so
// IsEmpty works on the zero value.
func NewSelection(entities, campaigns []string) Selection {
	var sel Selection
	if len(entities) > 0 {
		sel.Entities = make(map[string]struct{}, len(entities))
		for _, name := range entities {
			sel.Entities[name] = struct{}{}
		}
	}
	if len(campaigns) > 0 {
		sel.Campaigns = make(map[string]struct{}, len(campaigns))
		for _, name := range campaigns {
			sel.Campaigns[name] = struct{}{}
		}
	}
	return sel
}

// IsEmpty reports whether no narrowing is active.
func (s Selection) IsEmpty() bool {
	return len(s.Entities) == 0 && len(s.Campaigns) == 0
}

// matches reports whether a non-total entity passes the active filters.
func (s Selection) matches(e *EntityAggregate) bool {
	if len(s.Entities) > 0 {
		if _, ok := s.Entities[e.Name]; !ok {
			return false
		}
	}
	if len(s.Campaigns) > 0 {
		if _, ok := s.Campaigns[e.CampaignName]; !ok {
			return false
		}
	}
	return true
}

// SelectionState keeps one Selection per category tab. Switching the active
// category swaps which selection applies but never clears the others, so a
// narrowing made on products survives a detour through campaigns.
type SelectionState struct {
	active     models.Category
	byCategory map[models.Category]Selection
}

func NewSelectionState(active models.Category) *SelectionState {
	return &SelectionState{
		active:     active,
		byCategory: make(map[models.Category]Selection),
	}
}

// SetActive switches the active tab, preserving every tab's own selection.
func (s *SelectionState) SetActive(category models.Category) {
	s.active = category
}

// Active returns the current tab and its selection.
func (s *SelectionState) Active() (models.Category, Selection) {
	return s.active, s.byCategory[s.active]
}

// Set replaces the selection for a category.
func (s *SelectionState) Set(category models.Category, sel Selection) {
	s.byCategory[category] = sel
}

// Get returns the selection stored for a category.
func (s *SelectionState) Get(category models.Category) Selection {
	return s.byCategory[category]
}

// RecomputeTotals rebuilds the synthetic grand-total entity from the rows
// that pass the selection. With an empty selection any total supplied by the
// data source is kept as-is. With a narrowing active, prior total rows are
// dropped first so they cannot be double-counted, the selected entities'
// additive fields are folded per bucket, and every ratio is rederived from
// the fresh sums. By construction the total's additive metrics equal the
// sum of the selected entities' metrics at every bucket.
func RecomputeTotals(agg *Aggregation, sel Selection) {
	if agg == nil || sel.IsEmpty() {
		return
	}

	total := &EntityAggregate{
		Name:        TotalEntityName,
		DisplayName: TotalEntityName,
		Buckets:     make(map[string]*MetricSet),
	}
	for _, entity := range agg.Entities {
		if entity.IsTotal() || !sel.matches(entity) {
			continue
		}
		for key, cell := range entity.Buckets {
			out := total.Buckets[key]
			if out == nil {
				out = &MetricSet{}
				total.Buckets[key] = out
			}
			out.addSet(cell)
			total.Totals.addSet(cell)
		}
	}
	for _, cell := range total.Buckets {
		cell.derive(agg.Category)
	}
	total.Totals.derive(agg.Category)
	agg.Entities[TotalEntityName] = total
}

// EnsureGrandTotal guarantees a grand-total entity covering every bucket
// that holds data. Source-supplied total cells are kept as-is for the
// buckets they cover (account-level stand-ins for dates with no detail
// rows); buckets the supplied total misses are folded from the non-total
// entities, and with no supplied total at all the row is synthesized
// entirely from that fold. Without this pass a partial total row would
// show 0 on detail-covered dates while the entity rows show real numbers.
func EnsureGrandTotal(agg *Aggregation) {
	if agg == nil || len(agg.Entities) == 0 {
		return
	}

	folded := make(map[string]*MetricSet)
	supplied := agg.Entities[TotalEntityName]
	for _, entity := range agg.Entities {
		if entity.IsTotal() {
			continue
		}
		for key, cell := range entity.Buckets {
			if supplied != nil {
				if _, ok := supplied.Buckets[key]; ok {
					continue
				}
			}
			out := folded[key]
			if out == nil {
				out = &MetricSet{}
				folded[key] = out
			}
			out.addSet(cell)
		}
	}
	if len(folded) == 0 {
		// Either the supplied total already covers every data bucket, or
		// there is nothing to total.
		return
	}

	total := supplied
	if total == nil {
		total = &EntityAggregate{
			Name:        TotalEntityName,
			DisplayName: TotalEntityName,
			Buckets:     make(map[string]*MetricSet),
		}
	}
	for key, cell := range folded {
		cell.derive(agg.Category)
		total.Buckets[key] = cell
	}
	total.Totals = MetricSet{}
	for _, cell := range total.Buckets {
		total.Totals.addSet(cell)
	}
	total.Totals.derive(agg.Category)
	agg.Entities[TotalEntityName] = total
}

// ApplySelectionFilter drops non-total entities that fail the selection so
// the listing only shows what the user narrowed to. Totals always survive.
func ApplySelectionFilter(agg *Aggregation, sel Selection) {
	if agg == nil || sel.IsEmpty() {
		return
	}
	for name, entity := range agg.Entities {
		if entity.IsTotal() {
			continue
		}
		if !sel.matches(entity) {
			delete(agg.Entities, name)
		}
	}
}

// ZeroAccountLevelMetrics blanks metrics that only make sense account-wide
// on the individual rows of ad-side categories. Campaign and search-term
// rows carry no per-entity traffic or whole-account sales, so showing the
// account figure on each row would read as an entity-level number. Only the
// grand-total row keeps them. Ratios are rederived so TCOS and conversion
// rate go to 0 alongside their denominators.
func ZeroAccountLevelMetrics(agg *Aggregation) {
	if agg == nil || agg.Category == models.CategoryProducts {
		return
	}
	for _, entity := range agg.Entities {
		if entity.IsTotal() {
			continue
		}
		for _, cell := range entity.Buckets {
			cell.TotalSales = 0
			cell.Sessions = 0
			cell.PageViews = 0
			cell.derive(agg.Category)
		}
		entity.Totals.TotalSales = 0
		entity.Totals.Sessions = 0
		entity.Totals.PageViews = 0
		entity.Totals.derive(agg.Category)
	}
}
