package config

import "listing-scanner/pkg/models"

func css(selectors ...string) []models.SelectorSpec {
	specs := make([]models.SelectorSpec, len(selectors))
	for i, s := range selectors {
		specs[i] = models.SelectorSpec{CSS: s}
	}
	return specs
}

// DefaultSelectors are the LinkedIn job search lookups, most specific first.
func DefaultSelectors() map[string][]models.SelectorSpec {
	return map[string][]models.SelectorSpec{
		"item": css(
			".jobs-search-results__list-item",
			".job-card-container",
			".jobs-search-results-list .occludable-update",
			"li.jobs-search-results__list-item",
			".scaffold-layout__list-container li",
		),
		"title": css(
			".job-card-list__title",
			".job-card-container__link strong",
			"a.job-card-list__title",
			".jobs-unified-top-card__job-title",
			"h3.base-search-card__title",
			".artdeco-entity-lockup__title",
		),
		"link": append(css(
			"a.job-card-list__title",
			"a.job-card-container__link",
			`a[data-control-name="job_card_title"]`,
			"a.base-card__full-link",
		), models.SelectorSpec{Href: `/jobs/view/`}),
		"detail": css(
			".jobs-description__content",
			".jobs-box__html-content",
			"#job-details",
			".jobs-description",
			".jobs-unified-description__content",
			".description__text",
			`[class*="job-details-jobs-unified-top-card"]`,
			".job-view-layout",
		),
		"next_page": append(css(
			`button[aria-label="Next"]`,
			`button[aria-label="Next page"]`,
			".artdeco-pagination__button--next",
			`a[aria-label="Next"]`,
			`a[aria-label="Next page"]`,
		), models.SelectorSpec{Tag: "button", Text: "Next"}),
		"listing": css(
			".jobs-search-results-list",
			".scaffold-layout__list-container",
			".jobs-search__results-list",
		),
	}
}
