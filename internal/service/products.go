package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"restock-monitor/internal/extractor"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/scheduler"
	"restock-monitor/internal/tracker"
)

type AddProductRequest struct {
	// ID is optional, it is derived from the store and product names when empty.
	ID          string `json:"id"`
	Name        string `json:"name"`
	Store       string `json:"store"`
	URL         string `json:"url"`
	CheckoutURL string `json:"checkout_url"`
	Selector    string `json:"selector"`
	Marker      string `json:"marker"`
	// Strategy is `static` (the default) or `dynamic`.
	Strategy string `json:"strategy"`
	Disabled bool   `json:"disabled"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func validateUrl(field, value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return invalid("%s: %v", field, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return invalid("%s must be an absolute http(s) url", field)
	}
	return nil
}

func (req AddProductRequest) toProduct() (registry.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Store = strings.TrimSpace(req.Store)
	req.URL = strings.TrimSpace(req.URL)
	req.CheckoutURL = strings.TrimSpace(req.CheckoutURL)

	switch {
	case req.Name == "":
		return registry.Product{}, invalid("name is required")
	case req.Store == "":
		return registry.Product{}, invalid("store is required")
	case req.Marker == "":
		return registry.Product{}, invalid("marker is required")
	}
	err := validateUrl("url", req.URL)
	if err != nil {
		return registry.Product{}, err
	}
	if req.CheckoutURL == "" {
		req.CheckoutURL = req.URL
	}
	err = validateUrl("checkout url", req.CheckoutURL)
	if err != nil {
		return registry.Product{}, err
	}
	err = extractor.ValidateSelector(req.Selector)
	if err != nil {
		return registry.Product{}, invalid("selector: %v", err)
	}
	strategy, err := registry.ParseStrategy(strings.ToLower(strings.TrimSpace(req.Strategy)))
	if err != nil {
		return registry.Product{}, invalid("%v", err)
	}

	return registry.Product{
		ID:          req.ID,
		Name:        req.Name,
		Store:       req.Store,
		URL:         req.URL,
		CheckoutURL: req.CheckoutURL,
		Selector:    req.Selector,
		Marker:      req.Marker,
		Strategy:    strategy,
		Enabled:     !req.Disabled,
	}, nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, ".", "")
	value = nonSlugChars.ReplaceAllString(value, "_")
	return strings.Trim(value, "_")
}

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)

// AddProduct registers a new product (admin only). Its status starts unknown so
// the first observation only establishes a baseline.
func (s Service) AddProduct(ctx context.Context, req AddProductRequest) (string, error) {
	product, err := req.toProduct()
	if err != nil {
		return "", err
	}

	if product.ID != "" {
		if !validID.MatchString(product.ID) {
			return "", invalid("id must be lowercase letters, digits, '_' or '-'")
		}
		exists, err := s.registry.Exists(ctx, product.ID)
		if err != nil {
			s.tel.ReportBroken(report_service_add_product, err, product.ID)
			return "", err
		}
		if exists {
			return "", fmt.Errorf("%w: product '%s'", ErrAlreadyExists, product.ID)
		}
	} else {
		product.ID, err = s.deriveID(ctx, product.Store, product.Name)
		if err != nil {
			s.tel.ReportBroken(report_service_add_product, err)
			return "", err
		}
	}

	err = s.registry.Put(ctx, product, s.clock.Now())
	if err != nil {
		s.tel.ReportBroken(report_service_add_product, err, product.ID)
		return "", err
	}
	return product.ID, nil
}

// deriveID returns `<store>_<name>` slugified, suffixed with `_N` when taken.
func (s Service) deriveID(ctx context.Context, store, name string) (string, error) {
	base := slugify(store) + "_" + slugify(name)
	base = strings.Trim(base, "_")
	if base == "" {
		return "", invalid("name and store must contain letters or digits")
	}

	id := base
	for counter := 1; ; counter++ {
		exists, err := s.registry.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		id = base + "_" + strconv.Itoa(counter)
	}
}

// UpdateProduct replaces the definition of an existing product (admin only), its
// status and history are kept.
func (s Service) UpdateProduct(ctx context.Context, id string, req AddProductRequest) error {
	existing, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	req.ID = id
	req.Disabled = !existing.Enabled
	product, err := req.toProduct()
	if err != nil {
		return err
	}
	return s.registry.Put(ctx, product, s.clock.Now())
}

// RemoveProduct deletes a product (admin only). Subscriptions targeting it are
// kept and reported as orphaned until pruned.
func (s Service) RemoveProduct(ctx context.Context, id string) error {
	err := s.registry.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.tel.ReportBroken(report_service_remove, err, id)
	}
	return err
}

// ToggleProduct enables or disables monitoring of a product (admin only).
func (s Service) ToggleProduct(ctx context.Context, id string, enabled bool) error {
	return s.registry.SetEnabled(ctx, id, enabled)
}

func (s Service) GetProduct(ctx context.Context, id string) (registry.Product, error) {
	return s.registry.Get(ctx, id)
}

// ListProducts returns every product including its status, last error and failure
// count so operators can spot a broken selector.
func (s Service) ListProducts(ctx context.Context) ([]registry.Product, error) {
	return s.registry.List(ctx, false)
}

// SetStatus overrides a product's last known status (admin only).
func (s Service) SetStatus(ctx context.Context, id string, status string) error {
	parsed, err := tracker.ParseStatus(strings.ToLower(strings.TrimSpace(status)))
	if err != nil {
		return invalid("%v", err)
	}
	return s.registry.SetStatus(ctx, id, parsed, s.clock.Now())
}

// ResetAllStatuses marks every product out of stock (admin only), so the next in
// stock observation of each product alerts.
func (s Service) ResetAllStatuses(ctx context.Context) (int, error) {
	count, err := s.registry.ResetStatuses(ctx, tracker.StatusOutOfStock, s.clock.Now())
	if err != nil {
		s.tel.ReportBroken(report_service_reset_status, err)
		return 0, err
	}
	return count, nil
}

// CheckProduct runs one product through the pipeline without alerting anyone
// (admin only). The observed status is recorded.
func (s Service) CheckProduct(ctx context.Context, id string) (scheduler.Result, error) {
	product, err := s.registry.Get(ctx, id)
	if err != nil {
		return scheduler.Result{}, err
	}
	return s.checker.Check(ctx, product, false)
}

type CheckOutcome struct {
	ProductID string
	Result    scheduler.Result
	Err       error
}

// CheckAllProducts checks every enabled product without alerting anyone (admin only).
func (s Service) CheckAllProducts(ctx context.Context) ([]CheckOutcome, error) {
	products, err := s.registry.List(ctx, true)
	if err != nil {
		return nil, err
	}
	outcomes := make([]CheckOutcome, 0, len(products))
	for _, product := range products {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		result, err := s.checker.Check(ctx, product, false)
		if err != nil {
			s.tel.ReportWarning(report_service_check_product, err, product.ID)
		}
		outcomes = append(outcomes, CheckOutcome{
			ProductID: product.ID,
			Result:    result,
			Err:       err,
		})
	}
	return outcomes, nil
}

// RunCycle runs a full monitoring cycle immediately, alerting on restocks.
func (s Service) RunCycle(ctx context.Context) scheduler.CycleReport {
	return s.checker.RunCycle(ctx)
}
