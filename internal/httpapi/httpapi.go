package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/scheduler"
	"restock-monitor/internal/service"
	"restock-monitor/internal/serviceutil"
)

const report_httpapi_internal = "httpapi.internal"

// API exposes the command service as json over http. Admin routes require the
// admin bearer token, deciding who may use it is up to the caller.
type API struct {
	service service.Service
	tel     telemetry.API
}

func New(svc service.Service, tel telemetry.API) API {
	assert.NotNil(tel, "telemetry")
	return API{service: svc, tel: telemetry.NewScopedAPI("httpapi", tel)}
}

// Handler returns the routes of the api.
//
// The subscription routes take subscriber_id from the request as is and need no
// token, anyone who reaches them can act for any subscriber. They are meant for
// the chat layer, which has already identified the user, and the handler must
// only be exposed where that layer is its sole caller.
func (a API) Handler(adminToken string) http.Handler {
	admin := func(handler http.HandlerFunc) http.Handler {
		return serviceutil.VerifyAccessToken(adminToken, handler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /products", a.listProducts)
	mux.HandleFunc("GET /products/{id}", a.getProduct)
	mux.Handle("POST /products", admin(a.addProduct))
	mux.Handle("PUT /products/{id}", admin(a.updateProduct))
	mux.Handle("DELETE /products/{id}", admin(a.removeProduct))
	mux.Handle("POST /products/{id}/enabled", admin(a.toggleProduct))
	mux.Handle("POST /products/{id}/status", admin(a.setStatus))
	mux.Handle("POST /products/{id}/check", admin(a.checkProduct))
	mux.Handle("POST /products/check", admin(a.checkAllProducts))
	mux.Handle("POST /products/reset", admin(a.resetStatuses))
	mux.Handle("POST /cycle", admin(a.runCycle))

	// trusted caller only, see above
	mux.HandleFunc("GET /subscriptions", a.listSubscriptions)
	mux.HandleFunc("POST /subscriptions", a.subscribe)
	mux.HandleFunc("DELETE /subscriptions", a.unsubscribe)
	mux.Handle("POST /subscriptions/prune", admin(a.pruneSubscriptions))

	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func (a API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrInFlight):
		status = http.StatusConflict
	default:
		a.tel.ReportBroken(report_httpapi_internal, err)
	}
	writeJson(w, status, errorResponse{Error: err.Error()})
}

func readJson(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err != nil {
		return fmt.Errorf("%w: decode body: %v", service.ErrInvalidArgument, err)
	}
	return nil
}

type productView struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Store                 string     `json:"store"`
	URL                   string     `json:"url"`
	CheckoutURL           string     `json:"checkout_url"`
	Selector              string     `json:"selector"`
	Marker                string     `json:"marker"`
	Strategy              string     `json:"strategy"`
	Enabled               bool       `json:"enabled"`
	Status                string     `json:"status"`
	LastChecked           *time.Time `json:"last_checked,omitempty"`
	LastRestock           *time.Time `json:"last_restock,omitempty"`
	LastError             string     `json:"last_error,omitempty"`
	ConsecutiveFailures   int        `json:"consecutive_failures"`
	ConsecutiveOutOfStock int        `json:"consecutive_out_of_stock"`
	CreatedAt             time.Time  `json:"created_at"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newProductView(p registry.Product) productView {
	return productView{
		ID:                    p.ID,
		Name:                  p.Name,
		Store:                 p.Store,
		URL:                   p.URL,
		CheckoutURL:           p.CheckoutURL,
		Selector:              p.Selector,
		Marker:                p.Marker,
		Strategy:              string(p.Strategy),
		Enabled:               p.Enabled,
		Status:                string(p.Status),
		LastChecked:           optionalTime(p.LastChecked),
		LastRestock:           optionalTime(p.LastRestock),
		LastError:             p.LastError,
		ConsecutiveFailures:   p.ConsecutiveFailures,
		ConsecutiveOutOfStock: p.ConsecutiveOutOfStock,
		CreatedAt:             p.CreatedAt,
	}
}

type checkView struct {
	ProductID  string `json:"product_id"`
	InStock    bool   `json:"in_stock"`
	Previous   string `json:"previous"`
	Transition string `json:"transition"`
	Error      string `json:"error,omitempty"`
}

func newCheckView(productID string, result scheduler.Result, err error) checkView {
	view := checkView{
		ProductID:  productID,
		InStock:    result.Observation.InStock,
		Previous:   string(result.Previous),
		Transition: string(result.Transition),
	}
	if err != nil {
		view.Error = err.Error()
	}
	return view
}

type subscriptionView struct {
	SubscriberID string    `json:"subscriber_id"`
	Target       string    `json:"target"`
	ProductName  string    `json:"product_name,omitempty"`
	Orphaned     bool      `json:"orphaned"`
	CreatedAt    time.Time `json:"created_at"`
}
