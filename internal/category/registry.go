// Package category holds the process-wide catalog of notification categories.
// The catalog is seeded once at construction and is read-only afterwards, so
// it is safe for unsynchronized concurrent reads.
package category

import "fmt"

// Category describes one notification category and its routing defaults.
type Category struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Group          string     `json:"group"`
	DefaultEnabled bool       `json:"default_enabled"`
	AllowDisable   bool       `json:"allow_disable"`
	DefaultRouting ChannelMap `json:"default_routing"`
}

// ChannelMap records the per-channel default routing for a category.
type ChannelMap struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	SMS   bool `json:"sms"`
	InApp bool `json:"in_app"`
}

// Group labels used for UI clustering.
const (
	GroupSecurity     = "security"
	GroupAccount      = "account"
	GroupSocial       = "social"
	GroupMarketing    = "marketing"
	GroupTransactions = "transactions"
)

// Registry is the canonical set of category definitions.
type Registry struct {
	ordered []Category
	byID    map[string]Category
}

// NewRegistry builds a registry seeded with the standard catalog.
func NewRegistry() *Registry {
	return newRegistry(seed())
}

func newRegistry(cats []Category) *Registry {
	r := &Registry{
		ordered: cats,
		byID:    make(map[string]Category, len(cats)),
	}
	for _, c := range cats {
		r.byID[c.ID] = c
	}
	return r
}

// Get returns the category with the given id.
func (r *Registry) Get(id string) (Category, error) {
	c, ok := r.byID[id]
	if !ok {
		return Category{}, fmt.Errorf("category not found: %s", id)
	}
	return c, nil
}

// Exists reports whether a category id is part of the catalog.
func (r *Registry) Exists(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns all categories in catalog order.
func (r *Registry) List() []Category {
	out := make([]Category, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ListGrouped returns the catalog clustered by group label, preserving
// catalog order within each group.
func (r *Registry) ListGrouped() map[string][]Category {
	grouped := make(map[string][]Category)
	for _, c := range r.ordered {
		grouped[c.Group] = append(grouped[c.Group], c)
	}
	return grouped
}

func seed() []Category {
	all := ChannelMap{Email: true, Push: true, SMS: true, InApp: true}

	return []Category{
		{
			ID:             "security_alerts",
			Name:           "Security alerts",
			Description:    "Sign-ins from new devices, password changes, and suspicious activity",
			Group:          GroupSecurity,
			DefaultEnabled: true,
			AllowDisable:   false,
			DefaultRouting: all,
		},
		{
			ID:             "account_updates",
			Name:           "Account updates",
			Description:    "Changes to your account, plan, or billing details",
			Group:          GroupAccount,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Email: true, Push: true, InApp: true},
		},
		{
			ID:             "direct_messages",
			Name:           "Direct messages",
			Description:    "Messages sent directly to you",
			Group:          GroupSocial,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Email: true, Push: true, InApp: true},
		},
		{
			ID:             "mentions",
			Name:           "Mentions",
			Description:    "Someone mentions you in a post or comment",
			Group:          GroupSocial,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Push: true, InApp: true},
		},
		{
			ID:             "comments",
			Name:           "Comments",
			Description:    "Replies and comments on your content",
			Group:          GroupSocial,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Push: true, InApp: true},
		},
		{
			ID:             "likes",
			Name:           "Likes",
			Description:    "Someone likes your content",
			Group:          GroupSocial,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{InApp: true},
		},
		{
			ID:             "followers",
			Name:           "New followers",
			Description:    "Someone starts following you",
			Group:          GroupSocial,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Push: true, InApp: true},
		},
		{
			ID:             "product_updates",
			Name:           "Product updates",
			Description:    "New features and improvements",
			Group:          GroupMarketing,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Email: true},
		},
		{
			ID:             "promotions",
			Name:           "Promotions",
			Description:    "Offers, discounts, and sales",
			Group:          GroupMarketing,
			DefaultEnabled: false,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Email: true},
		},
		{
			ID:             "newsletter",
			Name:           "Newsletter",
			Description:    "Our periodic newsletter",
			Group:          GroupMarketing,
			DefaultEnabled: false,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Email: true},
		},
		{
			ID:             "order_updates",
			Name:           "Order updates",
			Description:    "Order confirmations and shipping status",
			Group:          GroupTransactions,
			DefaultEnabled: true,
			AllowDisable:   true,
			DefaultRouting: ChannelMap{Email: true, Push: true, SMS: true},
		},
		{
			ID:             "payment_updates",
			Name:           "Payment updates",
			Description:    "Payment confirmations, failures, and refunds",
			Group:          GroupTransactions,
			DefaultEnabled: true,
			AllowDisable:   false,
			DefaultRouting: ChannelMap{Email: true, Push: true, SMS: true},
		},
	}
}
