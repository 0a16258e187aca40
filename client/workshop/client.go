package workshop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"workshop/bizerror"
	"workshop/common"
	"workshop/domain"
	"workshop/domain/state"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const HeaderIdempotencyKey = "Idempotency-Key"

var (
	ErrCircuitOpen = errors.New("workshop api unavailable: circuit breaker open")
)

func init() {
	// hours travel as JSON numbers on the wire
	decimal.MarshalJSONWithoutQuotes = true
}

type Config struct {
	BaseURL string
	Timeout time.Duration

	// consecutive server or network failures before the breaker opens
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client talks to the workshop collaborator REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	threshold := config.FailureThreshold
	settings := gobreaker.Settings{
		Name:        "workshop-api",
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout, Transport: &TracingTransport{Transport: http.DefaultTransport}},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type WorkOrderFilters struct {
	Status     string `form:"estado"`
	Priority   string `form:"prioridad"`
	Technician string `form:"tecnico"`
	Search     string `form:"search"`
	Page       int    `form:"page"`
	Limit      int    `form:"limit"`
}

func (f WorkOrderFilters) values() url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("estado", f.Status)
	}
	if f.Priority != "" {
		q.Set("prioridad", f.Priority)
	}
	if f.Technician != "" {
		q.Set("tecnico", f.Technician)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

type WorkOrderPage struct {
	Data       []domain.WorkOrder `json:"data"`
	Pagination Pagination         `json:"pagination"`
}

type ChangeStatusResult struct {
	Msg       string           `json:"msg"`
	WorkOrder domain.WorkOrder `json:"workOrder"`
}

type DashboardSummary struct {
	TotalBays        int `json:"totalBays"`
	AvailableBays    int `json:"availableBays"`
	OccupiedBays     int `json:"occupiedBays"`
	MaintenanceBays  int `json:"maintenanceBays"`
	OutOfServiceBays int `json:"outOfServiceBays"`
}

type DashboardTechnicians struct {
	Active int `json:"active"`
}

type TallerDashboard struct {
	ActiveBays  []domain.ServiceBay  `json:"activeBays"`
	Summary     DashboardSummary     `json:"summary"`
	Technicians DashboardTechnicians `json:"technicians"`
}

type TechnicianEntry struct {
	Technician     string                `json:"technician"`
	Role           domain.TechnicianRole `json:"role"`
	EstimatedHours *decimal.Decimal      `json:"estimatedHours,omitempty"`
}

// EnterBayRequest carries either the flat single technician fields or Technicians, never both.
type EnterBayRequest struct {
	ServiceBay     string                `json:"serviceBay"`
	Technician     string                `json:"technician,omitempty"`
	Role           domain.TechnicianRole `json:"role,omitempty"`
	EstimatedHours *decimal.Decimal      `json:"estimatedHours,omitempty"`
	Technicians    []TechnicianEntry     `json:"technicians,omitempty"`
	Notes          string                `json:"notes,omitempty"`
}

type EnterBayResult struct {
	Ok  bool               `json:"ok"`
	Bay *domain.ServiceBay `json:"bay,omitempty"`
	Msg string             `json:"msg,omitempty"`
}

type ExitBayRequest struct {
	Technician  string   `json:"technician,omitempty"`
	Technicians []string `json:"technicians,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

type ExitBayResult struct {
	Ok bool `json:"ok"`
	// nil when the server did not say
	BayReleased *bool              `json:"bayReleased,omitempty"`
	Bay         *domain.ServiceBay `json:"bay,omitempty"`
	Msg         string             `json:"msg,omitempty"`
}

type BayHistoryEntry struct {
	WorkOrder     domain.WorkOrderRef         `json:"workOrder"`
	Technicians   []domain.AssignedTechnician `json:"technicians"`
	EntryTime     time.Time                   `json:"entryTime"`
	ExitTime      *time.Time                  `json:"exitTime,omitempty"`
	DurationHours decimal.Decimal             `json:"durationHours"`
	Notes         string                      `json:"notes,omitempty"`
}

type BayHistorySummary struct {
	TotalOrders     int             `json:"totalOrders"`
	TotalHours      decimal.Decimal `json:"totalHours"`
	AverageDuration decimal.Decimal `json:"averageDuration"`
}

type BayHistory struct {
	History []BayHistoryEntry `json:"history"`
	Summary BayHistorySummary `json:"summary"`
}

type ShipItem struct {
	Item     string `json:"item"`
	Quantity int    `json:"cantidad"`
}

func (c *Client) GetWorkOrders(ctx context.Context, filters WorkOrderFilters) (*WorkOrderPage, error) {
	page := &WorkOrderPage{}
	path := "/api/ordenes-trabajo"
	if q := filters.values().Encode(); q != "" {
		path += "?" + q
	}
	if err := c.invoke(ctx, http.MethodGet, path, "", nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// GetWorkOrderStatuses returns the statuses as served; callers filter and order them.
func (c *Client) GetWorkOrderStatuses(ctx context.Context) ([]state.Status, error) {
	var statuses []state.Status
	if err := c.invoke(ctx, http.MethodGet, "/api/estados-orden-trabajo", "", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *Client) ChangeWorkOrderStatus(ctx context.Context, workOrderID, statusCode, notes string) (*ChangeStatusResult, error) {
	body := map[string]string{"codigoEstado": statusCode, "observaciones": notes}
	result := &ChangeStatusResult{}
	err := c.invoke(ctx, http.MethodPatch, "/api/ordenes-trabajo/"+url.PathEscape(workOrderID)+"/estado", "", body, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) GetTallerDashboard(ctx context.Context) (*TallerDashboard, error) {
	dashboard := &TallerDashboard{}
	if err := c.invoke(ctx, http.MethodGet, "/api/taller/dashboard", "", nil, dashboard); err != nil {
		return nil, err
	}
	return dashboard, nil
}

func (c *Client) GetServiceBays(ctx context.Context) ([]domain.ServiceBay, error) {
	var bays []domain.ServiceBay
	if err := c.invoke(ctx, http.MethodGet, "/api/service-bays", "", nil, &bays); err != nil {
		return nil, err
	}
	return bays, nil
}

func (c *Client) GetServiceBay(ctx context.Context, bayID string) (*domain.ServiceBay, error) {
	bay := &domain.ServiceBay{}
	if err := c.invoke(ctx, http.MethodGet, "/api/service-bays/"+url.PathEscape(bayID), "", nil, bay); err != nil {
		return nil, err
	}
	return bay, nil
}

func (c *Client) EnterBay(ctx context.Context, workOrderID string, req *EnterBayRequest) (*EnterBayResult, error) {
	result := &EnterBayResult{}
	err := c.invoke(ctx, http.MethodPost, "/api/work-orders/"+url.PathEscape(workOrderID)+"/enter-bay", "", req, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) ExitBay(ctx context.Context, workOrderID string, req *ExitBayRequest) (*ExitBayResult, error) {
	result := &ExitBayResult{}
	err := c.invoke(ctx, http.MethodPost, "/api/work-orders/"+url.PathEscape(workOrderID)+"/exit-bay", "", req, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) GetBayHistory(ctx context.Context, bayID string) (*BayHistory, error) {
	history := &BayHistory{}
	if err := c.invoke(ctx, http.MethodGet, "/api/service-bays/"+url.PathEscape(bayID)+"/history", "", nil, history); err != nil {
		return nil, err
	}
	return history, nil
}

func (c *Client) GetSalesOrder(ctx context.Context, orderID string) (*domain.SalesOrder, error) {
	order := &domain.SalesOrder{}
	if err := c.invoke(ctx, http.MethodGet, "/api/sales-orders/"+url.PathEscape(orderID), "", nil, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ConfirmSalesOrder reserves stock; the server answers 400 on insufficient stock.
func (c *Client) ConfirmSalesOrder(ctx context.Context, orderID, warehouseID, idempotencyKey string) (*domain.SalesOrder, error) {
	body := map[string]string{"warehouseId": warehouseID, "idempotencyKey": idempotencyKey}
	order := &domain.SalesOrder{}
	err := c.invoke(ctx, http.MethodPost, "/api/sales-orders/"+url.PathEscape(orderID)+"/confirm", idempotencyKey, body, order)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ShipSalesOrder ships everything still pending when items is empty.
func (c *Client) ShipSalesOrder(ctx context.Context, orderID string, items []ShipItem, idempotencyKey string) (*domain.SalesOrder, error) {
	body := struct {
		Items          []ShipItem `json:"items,omitempty"`
		IdempotencyKey string     `json:"idempotencyKey"`
	}{Items: items, IdempotencyKey: idempotencyKey}
	order := &domain.SalesOrder{}
	err := c.invoke(ctx, http.MethodPost, "/api/sales-orders/"+url.PathEscape(orderID)+"/ship", idempotencyKey, body, order)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (c *Client) invoke(ctx context.Context, method, path, idempotencyKey string, reqBody, out interface{}) error {
	var payload []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		payload = b
	}
	headers := http.Header{}
	if idempotencyKey != "" {
		headers.Set(HeaderIdempotencyKey, idempotencyKey)
	}

	// only server side and network failures count against the breaker
	var callErr error
	ret, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := common.HttpInvokeJson(ctx, c.httpClient, method, c.baseURL+path, headers, payload)
		if err == nil {
			return body, nil
		}
		callErr = translate(err)
		if cat := bizerror.CategoryOf(callErr); cat == bizerror.CategoryServer || cat == bizerror.CategoryNetwork {
			return nil, callErr
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &bizerror.ErrNetwork{Cause: ErrCircuitOpen}
	}
	if callErr != nil {
		logrus.WithFields(logrus.Fields{"method": method, "path": path, "category": bizerror.CategoryOf(callErr)}).
			Warn("workshop api call failed: ", callErr)
		return callErr
	}
	if err != nil {
		return err
	}

	body, _ := ret.([]byte)
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &bizerror.ErrServer{Status: http.StatusOK, Message: fmt.Sprintf("malformed response of %s %s", method, path), Cause: err}
	}
	return nil
}

type errorBody struct {
	Msg     string `json:"msg"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func translate(err error) error {
	var invokeErr *common.ErrHttpInvoke
	if !errors.As(err, &invokeErr) || !invokeErr.Responded() {
		return &bizerror.ErrNetwork{Cause: err}
	}
	msg := ""
	eb := errorBody{}
	if json.Unmarshal(invokeErr.RespBody, &eb) == nil {
		switch {
		case eb.Msg != "":
			msg = eb.Msg
		case eb.Message != "":
			msg = eb.Message
		default:
			msg = eb.Error
		}
	}
	return bizerror.Classify(invokeErr.StatusCode, msg, err)
}
