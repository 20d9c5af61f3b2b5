package recovery

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/claimloop/claimloop/internal/platform/auth"
	"github.com/claimloop/claimloop/pkg/pagination"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "recovery", "analyst"))
	readGroup.GET("/claims", h.ListClaims)
	readGroup.GET("/claims/:id", h.GetClaim)
	readGroup.GET("/claims/:id/denials", h.ListDenials)
	readGroup.GET("/claims/:id/appeals", h.ListAppeals)
	readGroup.GET("/claims/:id/recoveries", h.ListTransactions)

	writeGroup := api.Group("", auth.RequireRole("admin", "recovery"))
	writeGroup.POST("/claims", h.CreateClaim)
	writeGroup.POST("/claims/:id/status", h.ReviewTransition)
	writeGroup.POST("/claims/:id/denials", h.RecordDenial)
	writeGroup.POST("/claims/:id/appeals", h.SubmitAppeal)
	writeGroup.POST("/appeals/:id/status", h.ChangeAppealStatus)
	writeGroup.POST("/claims/:id/recoveries", h.RecordRecovery)
	writeGroup.POST("/recoveries/:id/process", h.ProcessRecovery)
	writeGroup.POST("/recoveries/:id/fail", h.FailRecovery)
	writeGroup.POST("/recoveries/:id/dispute", h.DisputeRecovery)
}

// httpError maps workflow errors onto status codes. Transition rejections
// are conflicts the caller can inspect; optimistic-concurrency exhaustion is
// retryable and reported as unavailable.
func httpError(err error) error {
	var tr *TransitionRejectedError
	switch {
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &tr):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{
			"message":   tr.Reason,
			"current":   tr.Current,
			"attempted": tr.Attempted,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case IsConflict(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Claims --

type createClaimRequest struct {
	ClaimNumber   string     `json:"claim_number" validate:"required"`
	HospitalID    uuid.UUID  `json:"hospital_id" validate:"required"`
	PayerID       uuid.UUID  `json:"payer_id" validate:"required"`
	PayerClaimRef *string    `json:"payer_claim_ref"`
	ClaimedAmount int64      `json:"claimed_amount" validate:"required,gt=0"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

func (h *Handler) CreateClaim(c echo.Context) error {
	var req createClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in := CreateClaimInput{
		ClaimNumber:   req.ClaimNumber,
		HospitalID:    req.HospitalID,
		PayerID:       req.PayerID,
		PayerClaimRef: req.PayerClaimRef,
		ClaimedAmount: req.ClaimedAmount,
	}
	if req.SubmittedAt != nil {
		in.SubmittedAt = *req.SubmittedAt
	}
	claim, duplicate, err := h.svc.CreateClaim(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	if duplicate {
		return c.JSON(http.StatusOK, claim)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	claim, err := h.svc.GetClaim(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ListClaims(c echo.Context) error {
	var f ClaimFilter
	if v := c.QueryParam("hospital_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
		}
		f.HospitalID = id
	}
	if v := c.QueryParam("payer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
		}
		f.PayerID = id
	}
	if v := c.QueryParam("status"); v != "" {
		if !validClaimStatuses[ClaimStatus(v)] {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = ClaimStatus(v)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClaims(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type reviewTransitionRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) ReviewTransition(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req reviewTransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.ReviewTransition(c.Request().Context(), id, ClaimStatus(req.Status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

// -- Denials --

type recordDenialRequest struct {
	Category            string     `json:"category" validate:"required"`
	Amount              int64      `json:"amount" validate:"required,gt=0"`
	DeniedAt            *time.Time `json:"denied_at"`
	RecoveryProbability *float64   `json:"recovery_probability" validate:"omitempty,gte=0,lte=1"`
	EffortScore         *int       `json:"effort_score" validate:"omitempty,gte=1,lte=10"`
}

func (h *Handler) RecordDenial(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req recordDenialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in := RecordDenialInput{
		ClaimID:             id,
		Category:            DenialCategory(req.Category),
		Amount:              req.Amount,
		RecoveryProbability: req.RecoveryProbability,
		EffortScore:         req.EffortScore,
	}
	if req.DeniedAt != nil {
		in.DeniedAt = *req.DeniedAt
	}
	d, err := h.svc.RecordDenial(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDenials(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDenials(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Appeals --

type submitAppealRequest struct {
	DenialID *uuid.UUID `json:"denial_id"`
}

func (h *Handler) SubmitAppeal(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req submitAppealRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.SubmitAppeal(c.Request().Context(), SubmitAppealInput{
		ClaimID:  id,
		DenialID: req.DenialID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type changeAppealStatusRequest struct {
	Status        string `json:"status" validate:"required"`
	OutcomeAmount *int64 `json:"outcome_amount" validate:"omitempty,gte=0"`
}

func (h *Handler) ChangeAppealStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req changeAppealStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.ChangeAppealStatus(c.Request().Context(), ChangeAppealStatusInput{
		AppealID:      id,
		Status:        AppealStatus(req.Status),
		OutcomeAmount: req.OutcomeAmount,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppeals(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppeals(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Recovery transactions --

type recordRecoveryRequest struct {
	TransactionRef string     `json:"transaction_ref" validate:"required"`
	Amount         int64      `json:"amount" validate:"required,gt=0"`
	FeePercentage  *float64   `json:"fee_percentage"`
	AppealID       *uuid.UUID `json:"appeal_id"`
	Method         *string    `json:"method"`
}

func (h *Handler) RecordRecovery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req recordRecoveryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, duplicate, err := h.svc.RecordRecovery(c.Request().Context(), RecordRecoveryInput{
		ClaimID:        id,
		AppealID:       req.AppealID,
		TransactionRef: req.TransactionRef,
		Amount:         req.Amount,
		FeePercentage:  req.FeePercentage,
		Method:         req.Method,
	})
	if err != nil {
		return httpError(err)
	}
	if duplicate {
		return c.JSON(http.StatusOK, t)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ProcessRecovery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.ProcessRecovery(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) FailRecovery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.FailRecovery(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DisputeRecovery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.DisputeRecovery(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTransactions(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
