package httpapi

import (
	"net/http"

	"restock-monitor/internal/service"
)

func (a API) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]productView, len(products))
	for i, p := range products {
		views[i] = newProductView(p)
	}
	writeJson(w, http.StatusOK, views)
}

func (a API) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJson(w, http.StatusOK, newProductView(product))
}

func (a API) addProduct(w http.ResponseWriter, r *http.Request) {
	var req service.AddProductRequest
	err := readJson(w, r, &req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	id, err := a.service.AddProduct(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJson(w, http.StatusCreated, map[string]string{"id": id})
}

func (a API) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req service.AddProductRequest
	err := readJson(w, r, &req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	err = a.service.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a API) removeProduct(w http.ResponseWriter, r *http.Request) {
	err := a.service.RemoveProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a API) toggleProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	err := readJson(w, r, &req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if req.Enabled == nil {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: "enabled is required"})
		return
	}
	err = a.service.ToggleProduct(r.Context(), r.PathValue("id"), *req.Enabled)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a API) setStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	err := readJson(w, r, &req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	err = a.service.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a API) checkProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := a.service.CheckProduct(r.Context(), id)
	if err != nil && result.Observation.ProductID == "" {
		// the product never made it into the pipeline
		a.writeError(w, err)
		return
	}
	writeJson(w, http.StatusOK, newCheckView(id, result, err))
}

func (a API) checkAllProducts(w http.ResponseWriter, r *http.Request) {
	outcomes, err := a.service.CheckAllProducts(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]checkView, len(outcomes))
	for i, outcome := range outcomes {
		views[i] = newCheckView(outcome.ProductID, outcome.Result, outcome.Err)
	}
	writeJson(w, http.StatusOK, views)
}

func (a API) resetStatuses(w http.ResponseWriter, r *http.Request) {
	count, err := a.service.ResetAllStatuses(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]int{"reset": count})
}

func (a API) runCycle(w http.ResponseWriter, r *http.Request) {
	report := a.service.RunCycle(r.Context())
	writeJson(w, http.StatusOK, map[string]any{
		"products": report.Products,
		"checked":  report.Checked,
		"failed":   report.Failed,
		"skipped":  report.Skipped,
		"deferred": report.Deferred,
		"restocks": report.Restocks,
		"notified": report.Notified,
		"duration": report.Duration.String(),
	})
}

type subscriptionRequest struct {
	SubscriberID string `json:"subscriber_id"`
	// Product is a product id, name or keyword, empty subscribes to every product.
	Product string `json:"product"`
}

func (a API) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	err := readJson(w, r, &req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	result, err := a.service.Subscribe(r.Context(), req.SubscriberID, req.Product)
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJson(w, status, result)
}

func (a API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	removed, err := a.service.Unsubscribe(r.Context(), query.Get("subscriber_id"), query.Get("product"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]int{"removed": removed})
}

func (a API) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: "subscriber_id is required"})
		return
	}
	subscriptions, err := a.service.ListSubscriptions(r.Context(), subscriberID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]subscriptionView, len(subscriptions))
	for i, sub := range subscriptions {
		views[i] = subscriptionView{
			SubscriberID: sub.SubscriberID,
			Target:       sub.Target,
			ProductName:  sub.ProductName,
			Orphaned:     sub.Orphaned,
			CreatedAt:    sub.CreatedAt,
		}
	}
	writeJson(w, http.StatusOK, views)
}

func (a API) pruneSubscriptions(w http.ResponseWriter, r *http.Request) {
	count, err := a.service.PruneOrphanedSubscriptions(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]int{"pruned": count})
}
