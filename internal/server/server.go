package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"khata/internal/domain"
	"khata/internal/engine"
	"khata/internal/intent"
	"khata/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	BasePath  string
	Auth      AuthConfig
	RateLimit float64
	Burst     int
	Extractor intent.Extractor
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invariant_violation"`
	Message string         `json:"message" example:"ledger entry not found: visible index 4 of 3"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Khata API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Extractor == nil {
		cfg.Extractor = intent.PatternExtractor{}
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	log := cfg.Engine.Log
	if log == nil {
		log = cfg.Auth.logger()
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(newRateLimitMiddleware(cfg.RateLimit, cfg.Burst, log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Khata API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGoals(group, cfg.Engine, cfg.Extractor)
	registerWaterfall(group, cfg.Engine)
	registerSales(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{
			"record_id": conflict.RecordID,
			"retriable": conflict.Retriable(),
		})
	}
	var iv *domain.InvariantViolation
	if errors.As(err, &iv) {
		return newAPIError(http.StatusUnprocessableEntity, "invariant_violation", err.Error(), map[string]any{"reason": iv.Err.Error()})
	}
	if errors.Is(err, engine.ErrUnrecognized) {
		return newAPIError(http.StatusUnprocessableEntity, "unrecognized_intent", err.Error(), nil)
	}
	var dse *domain.DataSourceError
	if errors.As(err, &dse) {
		return newAPIError(http.StatusInternalServerError, "data_source_error", "data source failure", map[string]any{"op": dse.Op})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Khata API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type goalPath struct {
	GoalID string `path:"goal_id"`
}

type goalBody struct {
	Body domain.Goal `json:"body"`
}

func registerGoals(api huma.API, e engine.Engine, x intent.Extractor) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*goalBody, error) {
		req := input.Body
		target, aerr := parseAmount("target_amount", req.TargetAmount)
		if aerr != nil {
			return nil, aerr
		}
		start, aerr := parseDate("start_tracking_date", req.StartDate)
		if aerr != nil {
			return nil, aerr
		}
		deadline, aerr := parseDate("deadline", req.Deadline)
		if aerr != nil {
			return nil, aerr
		}
		g, err := e.CreateGoal(ctx, engine.GoalCreateOptions{
			ID:             strOrEmpty(req.ID),
			Title:          req.Title,
			Description:    strOrEmpty(req.Description),
			GoalType:       strOrEmpty(req.GoalType),
			Metric:         domain.MetricType(req.MetricType),
			Target:         target,
			StartDate:      start,
			Deadline:       deadline,
			ProductID:      strOrEmpty(req.ProductID),
			Recurring:      req.IsRecurring,
			RecurrenceType: domain.RecurrenceType(strOrEmpty(req.RecurrenceType)),
			ActorID:        actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &goalBody{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals, earliest deadline first",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,completed,archived"`
	}) (*struct {
		Body GoalListResponse `json:"body"`
	}, error) {
		items, err := e.ListGoals(ctx, domain.GoalStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Goal{}
		}
		return &struct {
			Body GoalListResponse `json:"body"`
		}{Body: GoalListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*goalBody, error) {
		g, err := e.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &goalBody{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-goal",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/refresh",
		Summary:     "Recompute one goal from sales data",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*goalBody, error) {
		ev, err := e.RefreshGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &goalBody{Body: ev.Goal}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-goals",
		Method:      http.MethodPost,
		Path:        "/goals/refresh",
		Summary:     "Recompute every active goal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RefreshResponse `json:"body"`
	}, error) {
		evs, err := e.RefreshAll(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RefreshResponse `json:"body"`
		}{Body: refreshResponse(evs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-goal-progress",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/progress",
		Summary:     "Record progress on a manual or EMI goal",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		GoalID string              `path:"goal_id"`
		Body   GoalProgressRequest `json:"body"`
	}) (*goalBody, error) {
		amount, aerr := parseAmount("amount", input.Body.Amount)
		if aerr != nil {
			return nil, aerr
		}
		mode := engine.ProgressAdd
		if input.Body.Mode == string(engine.ProgressSet) {
			mode = engine.ProgressSet
		}
		g, err := e.SetProgress(ctx, input.GoalID, amount, mode, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &goalBody{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-goal",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/archive",
		Summary:     "Archive goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*goalBody, error) {
		g, err := e.ArchiveGoal(ctx, input.GoalID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &goalBody{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollover-goals",
		Method:      http.MethodPost,
		Path:        "/goals/rollover",
		Summary:     "Open the next period of completed recurring goals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RolloverResponse `json:"body"`
	}, error) {
		created, err := e.RolloverRecurring(ctx, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		if created == nil {
			created = []domain.Goal{}
		}
		return &struct {
			Body RolloverResponse `json:"body"`
		}{Body: RolloverResponse{Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-intent",
		Method:      http.MethodPost,
		Path:        "/goals/intents",
		Summary:     "Create or update a goal from a sentence",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body GoalIntentRequest `json:"body"`
	}) (*goalBody, error) {
		g, err := e.ApplyIntent(ctx, x.Extract(input.Body.Text), actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &goalBody{Body: g}, nil
	})
}

func registerWaterfall(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "waterfall",
		Method:      http.MethodGet,
		Path:        "/waterfall",
		Summary:     "Split month-to-date net profit across active goals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		plan, err := e.Waterfall(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: plan}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Month-to-date totals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		t, r, err := e.Summary(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: summaryResponse(t, r)}, nil
	})
}

func registerSales(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-sale",
		Method:        http.MethodPost,
		Path:          "/sales",
		Summary:       "Record sale",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateSaleRequest `json:"body"`
	}) (*struct {
		Body domain.Sale `json:"body"`
	}, error) {
		req := input.Body
		sell, aerr := parseAmount("sell_price", req.SellPrice)
		if aerr != nil {
			return nil, aerr
		}
		buy, aerr := parseAmount("buy_price", req.BuyPrice)
		if aerr != nil {
			return nil, aerr
		}
		qty := decimal.NewFromInt(1)
		if req.Quantity != "" {
			if qty, aerr = parseAmount("quantity", req.Quantity); aerr != nil {
				return nil, aerr
			}
		}
		date, aerr := parseDate("date", req.Date)
		if aerr != nil {
			return nil, aerr
		}
		s, err := e.RecordSale(ctx, engine.SaleOptions{
			Date:       date,
			CustomerID: strOrEmpty(req.CustomerID),
			ProductID:  strOrEmpty(req.ProductID),
			SellPrice:  sell,
			BuyPrice:   buy,
			Quantity:   qty,
			ActorID:    actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Sale `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-sale",
		Method:        http.MethodDelete,
		Path:          "/sales/{sale_id}",
		Summary:       "Delete sale",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SaleID string `path:"sale_id"`
	}) (*struct{}, error) {
		if err := e.DeleteSale(ctx, input.SaleID, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-expense",
		Method:        http.MethodPost,
		Path:          "/expenses",
		Summary:       "Record expense",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateExpenseRequest `json:"body"`
	}) (*struct {
		Body domain.Expense `json:"body"`
	}, error) {
		req := input.Body
		amount, aerr := parseAmount("amount", req.Amount)
		if aerr != nil {
			return nil, aerr
		}
		date, aerr := parseDate("date", req.Date)
		if aerr != nil {
			return nil, aerr
		}
		x, err := e.RecordExpense(ctx, engine.ExpenseOptions{
			Date:        date,
			Amount:      amount,
			Category:    strOrEmpty(req.Category),
			Description: strOrEmpty(req.Description),
			ActorID:     actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Expense `json:"body"`
		}{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-expense",
		Method:        http.MethodDelete,
		Path:          "/expenses/{expense_id}",
		Summary:       "Delete expense",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExpenseID string `path:"expense_id"`
	}) (*struct{}, error) {
		if err := e.DeleteExpense(ctx, input.ExpenseID, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type ledgerBody struct {
	Body LedgerResponse `json:"body"`
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-parties",
		Method:      http.MethodGet,
		Path:        "/parties",
		Summary:     "List parties with ledger records",
	}, func(ctx context.Context, input *struct {
		Kind string `query:"kind" enum:"customer,supplier"`
	}) (*struct {
		Body PartyListResponse `json:"body"`
	}, error) {
		items, err := e.ListParties(ctx, domain.PartyKind(input.Kind))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Party{}
		}
		return &struct {
			Body PartyListResponse `json:"body"`
		}{Body: PartyListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ledger",
		Method:      http.MethodGet,
		Path:        "/parties/{party_id}/ledger",
		Summary:     "Ledger history of a party",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PartyID string `path:"party_id"`
	}) (*ledgerBody, error) {
		v, err := e.History(ctx, input.PartyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ledgerBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-ledger-entry",
		Method:      http.MethodPost,
		Path:        "/parties/{party_id}/ledger/entries",
		Summary:     "Append a due, payment or credit sale",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PartyID string             `path:"party_id"`
		Body    LedgerEntryRequest `json:"body"`
	}) (*ledgerBody, error) {
		req := input.Body
		amount, aerr := parseAmount("amount", req.Amount)
		if aerr != nil {
			return nil, aerr
		}
		due, aerr := parseDate("due_date", req.DueDate)
		if aerr != nil {
			return nil, aerr
		}
		opts := engine.LedgerEntryOptions{
			PartyID:   input.PartyID,
			PartyKind: domain.PartyKind(req.PartyKind),
			Amount:    amount,
			DueDate:   due,
			ActorID:   actorIDFromContext(ctx),
		}
		var v engine.LedgerView
		var err error
		switch req.Kind {
		case "due":
			v, err = e.RecordDue(ctx, opts)
		case "payment":
			v, err = e.RecordPayment(ctx, opts)
		case "open":
			v, err = e.OpenRecord(ctx, opts)
		case "credit_sale":
			paid := decimal.Zero
			if req.Paid != nil {
				if paid, aerr = parseAmount("paid", *req.Paid); aerr != nil {
					return nil, aerr
				}
			}
			v, err = e.RecordCreditSale(ctx, opts, amount, paid)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown entry kind", map[string]any{"kind": req.Kind})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &ledgerBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-latest-ledger-entry",
		Method:      http.MethodPut,
		Path:        "/parties/{party_id}/ledger/entries/latest",
		Summary:     "Change the amount of the most recent entry",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PartyID string            `path:"party_id"`
		Body    LedgerEditRequest `json:"body"`
	}) (*ledgerBody, error) {
		amount, aerr := parseAmount("amount", input.Body.Amount)
		if aerr != nil {
			return nil, aerr
		}
		v, err := e.EditLatestEntry(ctx, input.PartyID, amount, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &ledgerBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-ledger-entries",
		Method:      http.MethodPost,
		Path:        "/parties/{party_id}/ledger/deletions",
		Summary:     "Delete entries by their visible positions",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PartyID string              `path:"party_id"`
		Body    LedgerDeleteRequest `json:"body"`
	}) (*ledgerBody, error) {
		v, err := e.DeleteEntries(ctx, input.PartyID, input.Body.Indexes, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &ledgerBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-ledger-record",
		Method:      http.MethodPost,
		Path:        "/ledger-records/{record_id}/clear",
		Summary:     "Write off an unexplained record balance",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RecordID string `path:"record_id"`
	}) (*ledgerBody, error) {
		v, err := e.ClearBalance(ctx, input.RecordID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &ledgerBody{Body: v}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type" doc:"type prefix, e.g. ledger."`
		EntityKind string `query:"entity_kind" enum:"goal,sale,expense,party"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseAmount(field, raw string) (decimal.Decimal, huma.StatusError) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
	if err != nil {
		return decimal.Zero, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+field, map[string]any{field: raw})
	}
	return d, nil
}

func parseDate(field string, raw *string) (*time.Time, huma.StatusError) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(strings.TrimSpace(*raw))
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+field, map[string]any{field: *raw})
	}
	return &t, nil
}

func strOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
