package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"github.com/kursadbilgin/batch-engine/internal/service"
	"github.com/shopspring/decimal"
)

const (
	uploadField     = "file"
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

type BatchService interface {
	SubmitBatch(ctx context.Context, upload service.Upload) (*domain.Batch, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListItems(ctx context.Context, identity domain.Identity, params repository.ListParams) ([]domain.Item, int64, error)
}

type BatchHandler struct {
	service        BatchService
	auth           Authenticator
	maxUploadBytes int64
}

func NewBatchHandler(service BatchService, auth Authenticator, maxUploadBytes int64) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	return &BatchHandler{service: service, auth: auth, maxUploadBytes: maxUploadBytes}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService, auth Authenticator, maxUploadBytes int64) error {
	h, err := NewBatchHandler(service, auth, maxUploadBytes)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.SubmitBatch)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Get("/batches/:id/items", h.ListItems)

	return nil
}

type batchResponse struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	TotalRows        int       `json:"total_rows"`
	ProcessedRows    int       `json:"processed_rows"`
	Errors           int       `json:"errors"`
	UploadedBy       *string   `json:"uploaded_by"`
	Detail           string    `json:"detail,omitempty"`
}

type batchErrorResponse struct {
	Detail string        `json:"detail"`
	Batch  batchResponse `json:"batch"`
}

type itemResponse struct {
	ID            int64       `json:"id"`
	RowNumber     int         `json:"row_number"`
	Phone         string      `json:"phone"`
	Amount        json.Number `json:"amount"`
	Status        string      `json:"status"`
	ResultMessage string      `json:"result_message"`
	ProcessedAt   *time.Time  `json:"processed_at"`
	AttemptCount  int         `json:"attempt_count"`
}

type listItemsResponse struct {
	Count    int64          `json:"count"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Results  []itemResponse `json:"results"`
}

func (h *BatchHandler) SubmitBatch(c *fiber.Ctx) error {
	identity, err := h.auth.Authenticate(c)
	if err != nil {
		return toHTTPError(err)
	}

	fileHeader, err := c.FormFile(uploadField)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d byte upload limit", h.maxUploadBytes))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "failed to read uploaded file")
	}
	defer file.Close() //nolint:errcheck // read-only multipart part

	owner := identity.UserID
	batch, err := h.service.SubmitBatch(requestContext(c), service.Upload{
		Filename: fileHeader.Filename,
		Content:  file,
		OwnerID:  &owner,
	})
	if err != nil {
		var batchErr *domain.BatchError
		if errors.As(err, &batchErr) && batchErr.Batch != nil {
			return c.Status(fiber.StatusBadRequest).JSON(batchErrorResponse{
				Detail: batchErr.Error(),
				Batch:  toBatchResponse(batchErr.Batch),
			})
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.service.GetBatch(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ListItems(c *fiber.Ctx) error {
	identity, err := h.auth.Authenticate(c)
	if err != nil {
		return toHTTPError(err)
	}

	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}
	params.BatchID = strings.TrimSpace(c.Params("id"))

	items, total, err := h.service.ListItems(requestContext(c), identity, params)
	if err != nil {
		return toHTTPError(err)
	}

	results := make([]itemResponse, 0, len(items))
	for _, item := range items {
		results = append(results, toItemResponse(item))
	}

	return c.Status(fiber.StatusOK).JSON(listItemsResponse{
		Count:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
		Results:  results,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     defaultPage,
		PageSize: defaultPageSize,
		Phone:    strings.TrimSpace(c.Query("phone")),
	}

	var err error
	if params.Page, err = intQuery(c, "page", defaultPage); err != nil {
		return repository.ListParams{}, err
	}
	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize, err = intQuery(c, "page_size", defaultPageSize); err != nil {
		return repository.ListParams{}, err
	}
	if params.PageSize < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page_size must be >= 1", domain.ErrValidation)
	}
	params.PageSize = min(params.PageSize, maxPageSize)

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseItemStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	for field, target := range map[string]**int{
		"row":     &params.Row,
		"min_row": &params.MinRow,
		"max_row": &params.MaxRow,
	} {
		if *target, err = optionalIntQuery(c, field); err != nil {
			return repository.ListParams{}, err
		}
	}

	if params.MinAmount, err = decimalQuery(c, "min_amount"); err != nil {
		return repository.ListParams{}, err
	}
	if params.MaxAmount, err = decimalQuery(c, "max_amount"); err != nil {
		return repository.ListParams{}, err
	}

	if params.ProcessedBefore, err = parseRFC3339Query(c.Query("processed_before"), "processed_before"); err != nil {
		return repository.ListParams{}, err
	}
	if params.ProcessedAfter, err = parseRFC3339Query(c.Query("processed_after"), "processed_after"); err != nil {
		return repository.ListParams{}, err
	}

	if ordering := strings.TrimSpace(c.Query("ordering")); ordering != "" {
		params.Ordering = strings.Split(ordering, ",")
	}

	return params, nil
}

func intQuery(c *fiber.Ctx, field string, fallback int) (int, error) {
	value, err := optionalIntQuery(c, field)
	if err != nil || value == nil {
		return fallback, err
	}
	return *value, nil
}

func optionalIntQuery(c *fiber.Ctx, field string) (*int, error) {
	raw := strings.TrimSpace(c.Query(field))
	if raw == "" {
		return nil, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, field)
	}
	return &value, nil
}

func decimalQuery(c *fiber.Ctx, field string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(c.Query(field))
	if raw == "" {
		return nil, nil
	}

	value, err := domain.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number that fits an amount", domain.ErrValidation, field)
	}
	return &value, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

// requestContext carries the request id into service calls so logs and
// queued messages can be correlated.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:               b.ID,
		OriginalFilename: b.OriginalFilename,
		Status:           b.Status.String(),
		CreatedAt:        b.CreatedAt,
		TotalRows:        b.TotalRows,
		ProcessedRows:    b.ProcessedRows,
		Errors:           b.Errors,
		UploadedBy:       b.OwnerID,
		Detail:           b.Detail,
	}
}

func toItemResponse(item domain.Item) itemResponse {
	return itemResponse{
		ID:            item.ID,
		RowNumber:     item.RowNumber,
		Phone:         item.Phone,
		Amount:        json.Number(item.Amount.StringFixed(domain.AmountPlaces)),
		Status:        item.Status.String(),
		ResultMessage: item.ResultMessage,
		ProcessedAt:   item.ProcessedAt,
		AttemptCount:  item.AttemptCount,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyInput),
		errors.Is(err, domain.ErrTooManyRows):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return fiber.NewError(fiber.StatusUnauthorized, "authentication credentials were not provided")
	case errors.Is(err, domain.ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, "you do not have permission to perform this action")
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
