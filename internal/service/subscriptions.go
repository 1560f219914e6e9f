package service

import (
	"context"
	"fmt"
	"strings"

	"restock-monitor/internal/db"
	"restock-monitor/internal/registry"

	"github.com/antzucaro/matchr"
)

// minimum Jaro-Winkler similarity for a keyword to resolve to a product name
const keywordThreshold = 0.85

// resolveProduct finds a product by id, then by exact name, then by the most
// similar name.
func (s Service) resolveProduct(ctx context.Context, ref string) (registry.Product, error) {
	product, err := s.registry.Get(ctx, ref)
	if err == nil {
		return product, nil
	}
	if !isNotFound(err) {
		return registry.Product{}, err
	}

	products, err := s.registry.List(ctx, false)
	if err != nil {
		return registry.Product{}, err
	}

	keyword := strings.ToLower(strings.TrimSpace(ref))
	for _, p := range products {
		if strings.ToLower(p.Name) == keyword {
			return p, nil
		}
	}

	var (
		best           registry.Product
		bestSimilarity float64
	)
	for _, p := range products {
		candidates := []string{
			strings.ToLower(p.Name),
			strings.ToLower(p.Store + " " + p.Name),
		}
		for _, candidate := range candidates {
			similarity := matchr.JaroWinkler(keyword, candidate, false)
			if similarity > bestSimilarity {
				best = p
				bestSimilarity = similarity
			}
		}
	}
	if bestSimilarity >= keywordThreshold {
		return best, nil
	}
	return registry.Product{}, fmt.Errorf("product '%s': %w", ref, ErrNotFound)
}

type SubscribeResult struct {
	// Target is the subscribed product id or db.WildcardTarget.
	Target      string `json:"target"`
	ProductName string `json:"product_name,omitempty"`
	// Created is false when the subscription already existed.
	Created bool `json:"created"`
}

// Subscribe registers interest in a product, or in every product when productRef
// is empty. productRef may be a product id, name or keyword. The product must
// exist when subscribing.
func (s Service) Subscribe(ctx context.Context, subscriberID, productRef string) (SubscribeResult, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return SubscribeResult{}, invalid("subscriber id is required")
	}

	result := SubscribeResult{Target: db.WildcardTarget}
	productRef = strings.TrimSpace(productRef)
	if productRef != "" && productRef != db.WildcardTarget {
		product, err := s.resolveProduct(ctx, productRef)
		if err != nil {
			return SubscribeResult{}, err
		}
		result.Target = product.ID
		result.ProductName = product.Name
	}

	created, err := s.registry.Subscribe(ctx, subscriberID, result.Target, s.clock.Now())
	if err != nil {
		s.tel.ReportBroken(report_service_subscribe, err, subscriberID, result.Target)
		return SubscribeResult{}, err
	}
	result.Created = created
	return result, nil
}

// Unsubscribe removes a subscription. An empty productRef removes every
// subscription of the subscriber, wildcard included. It returns how many
// subscriptions were removed.
func (s Service) Unsubscribe(ctx context.Context, subscriberID, productRef string) (int, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return 0, invalid("subscriber id is required")
	}

	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		subscriptions, err := s.registry.ListBySubscriber(ctx, subscriberID)
		if err != nil {
			return 0, err
		}
		removed := 0
		for _, sub := range subscriptions {
			ok, err := s.registry.Unsubscribe(ctx, subscriberID, sub.Target)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}
		return removed, nil
	}

	// the target is tried verbatim first so orphaned subscriptions can be removed
	ok, err := s.registry.Unsubscribe(ctx, subscriberID, productRef)
	if err != nil {
		return 0, err
	}
	if ok {
		return 1, nil
	}

	product, err := s.resolveProduct(ctx, productRef)
	if err != nil {
		return 0, err
	}
	ok, err = s.registry.Unsubscribe(ctx, subscriberID, product.ID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("subscription to '%s': %w", product.ID, ErrNotFound)
	}
	return 1, nil
}

type SubscriptionView struct {
	registry.Subscription
	ProductName string
	// Orphaned is set when the targeted product has been removed.
	Orphaned bool
}

// ListSubscriptions returns a subscriber's subscriptions, marking those whose
// product no longer exists.
func (s Service) ListSubscriptions(ctx context.Context, subscriberID string) ([]SubscriptionView, error) {
	subscriptions, err := s.registry.ListBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	views := make([]SubscriptionView, len(subscriptions))
	for i, sub := range subscriptions {
		views[i] = SubscriptionView{Subscription: sub}
		if sub.Wildcard() {
			continue
		}
		product, err := s.registry.Get(ctx, sub.Target)
		if isNotFound(err) {
			views[i].Orphaned = true
			continue
		}
		if err != nil {
			return nil, err
		}
		views[i].ProductName = product.Name
	}
	return views, nil
}

// PruneOrphanedSubscriptions deletes subscriptions to removed products (admin only).
func (s Service) PruneOrphanedSubscriptions(ctx context.Context) (int, error) {
	count, err := s.registry.DeleteOrphaned(ctx)
	if err != nil {
		s.tel.ReportBroken(report_service_prune, err)
		return 0, err
	}
	return count, nil
}
