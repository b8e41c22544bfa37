package locator

import (
	"context"
	"fmt"

	"listing-scanner/pkg/browser"
	"listing-scanner/pkg/models"

	zlog "github.com/rs/zerolog/log"
)

// Role is a logical element kind the scan flow asks for.
type Role string

const (
	RoleItem     Role = "item"
	RoleTitle    Role = "title"
	RoleLink     Role = "link"
	RoleDetail   Role = "detail"
	RoleNextPage Role = "next_page"
	RoleListing  Role = "listing"
)

// Roles lists every known role.
var Roles = []Role{RoleItem, RoleTitle, RoleLink, RoleDetail, RoleNextPage, RoleListing}

// action roles are click targets and must be interactable.
var actionRoles = map[Role]bool{
	RoleLink:     true,
	RoleNextPage: true,
}

// Table maps each role to its ordered strategies.
type Table map[Role][]Strategy

// Locator resolves roles to elements. Nothing is cached between calls.
type Locator struct {
	page  browser.Page
	table Table
}

// New returns a Locator over page.
func New(page browser.Page, table Table) *Locator {
	return &Locator{page: page, table: table}
}

// BuildTable turns config specs into a Table.
func BuildTable(specs map[string][]models.SelectorSpec) (Table, error) {
	known := make(map[Role]bool, len(Roles))
	for _, r := range Roles {
		known[r] = true
	}

	table := make(Table, len(specs))
	for name, list := range specs {
		role := Role(name)
		if !known[role] {
			return nil, fmt.Errorf("unknown selector role %q", name)
		}
		for i, spec := range list {
			s, err := FromSpec(spec)
			if err != nil {
				return nil, fmt.Errorf("selectors.%s[%d]: %w", name, i, err)
			}
			table[role] = append(table[role], s)
		}
	}
	return table, nil
}

// Page returns the page the locator queries.
func (l *Locator) Page() browser.Page { return l.page }

// Locate returns the first element of the first strategy that yields one.
func (l *Locator) Locate(ctx context.Context, role Role, scope browser.Element) (browser.Element, bool) {
	found := l.find(ctx, role, scope)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// LocateAll returns the full result of the first strategy that yields one.
func (l *Locator) LocateAll(ctx context.Context, role Role) []browser.Element {
	return l.find(ctx, role, nil)
}

func (l *Locator) find(ctx context.Context, role Role, scope browser.Element) []browser.Element {
	for _, strategy := range l.table[role] {
		if ctx.Err() != nil {
			return nil
		}
		found, err := strategy.Find(ctx, l.page, scope)
		if err != nil {
			zlog.Debug().Err(err).Str("role", string(role)).Str("strategy", strategy.String()).Msg("Strategy failed")
			continue
		}
		if actionRoles[role] {
			found = l.interactable(ctx, found)
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

func (l *Locator) interactable(ctx context.Context, elements []browser.Element) []browser.Element {
	var kept []browser.Element
	for _, el := range elements {
		ok, err := l.page.Interactable(ctx, el)
		if err == nil && ok {
			kept = append(kept, el)
		}
	}
	return kept
}
