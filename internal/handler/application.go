package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scholarship-ledger/internal/gateway"
	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/receipt"
	"scholarship-ledger/internal/util"
	"scholarship-ledger/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApplicationHandler serves the funding-request lifecycle: create,
// reserve, checkout, manual disbursement.
type ApplicationHandler struct {
	DB       *gorm.DB
	Store    *ledger.Store
	Flow     *workflow.Workflow
	Gateway  *gateway.Client
	Receipts *receipt.Service
}

func NewApplicationHandler(db *gorm.DB, store *ledger.Store, flow *workflow.Workflow, gw *gateway.Client, receipts *receipt.Service) *ApplicationHandler {
	return &ApplicationHandler{DB: db, Store: store, Flow: flow, Gateway: gw, Receipts: receipts}
}

type createApplicationReq struct {
	StudentName  string `json:"student_name" binding:"required,max=128"`
	StudentEmail string `json:"student_email" binding:"max=128"`
	SchoolID     string `json:"school_id" binding:"required,max=64"`
	AcademicYear string `json:"academic_year"`
	Amount       int64  `json:"amount" binding:"required"`
}

// Create registers an approved funding request. Requests arrive here
// already vetted upstream; this subsystem only owns the money movement.
func (h *ApplicationHandler) Create(c *gin.Context) {
	var req createApplicationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid parameters")
		return
	}
	if err := util.ValidateAmount(req.Amount); err != nil {
		util.FieldError(c, http.StatusBadRequest, "amount", err.Error())
		return
	}

	app := models.Application{
		StudentName:  strings.TrimSpace(req.StudentName),
		StudentEmail: strings.TrimSpace(req.StudentEmail),
		SchoolID:     req.SchoolID,
		Amount:       req.Amount,
		Status:       models.AppStatusApproved,
	}

	// Unbudgeted schools draw from the global pool: BudgetID stays nil.
	budget, err := h.Store.BudgetForSchool(req.SchoolID, req.AcademicYear)
	if err == nil {
		app.BudgetID = &budget.ID
	} else if !errors.Is(err, ledger.ErrBudgetNotFound) {
		writeDomainError(c, err)
		return
	}

	if err := h.DB.Create(&app).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "failed to save application")
		return
	}

	util.Success(c, util.Response{"application": app})
}

func (h *ApplicationHandler) appID(c *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid application id")
		return 0, false
	}
	return uint(id), true
}

// Get returns one application with its payment and disbursement state.
func (h *ApplicationHandler) Get(c *gin.Context) {
	id, ok := h.appID(c)
	if !ok {
		return
	}

	var app models.Application
	if err := h.DB.First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "application not found")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "failed to load application")
		}
		return
	}

	resp := util.Response{"application": app}
	if app.PaymentTransactionID != nil {
		var payment models.PaymentTransaction
		if err := h.DB.First(&payment, *app.PaymentTransactionID).Error; err == nil {
			resp["payment"] = payment
		}
	}
	if app.DisbursementID != nil {
		var dis models.Disbursement
		if err := h.DB.First(&dis, *app.DisbursementID).Error; err == nil {
			resp["disbursement"] = dis
		}
	}
	util.Success(c, resp)
}

// Reserve places the budget hold: approved -> pending_disbursement.
func (h *ApplicationHandler) Reserve(c *gin.Context) {
	id, ok := h.appID(c)
	if !ok {
		return
	}

	app, err := h.Flow.ReserveFunds(id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	util.Success(c, util.Response{"application": app})
}

// Checkout opens a gateway checkout session for a reserved application.
// The gateway call runs before anything touches the ledger, with its own
// timeout; on gateway failure the reservation stays and the caller
// retries later.
func (h *ApplicationHandler) Checkout(c *gin.Context) {
	id, ok := h.appID(c)
	if !ok {
		return
	}

	var app models.Application
	if err := h.DB.First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "application not found")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "failed to load application")
		}
		return
	}
	if app.Status != models.AppStatusPendingDisbursement {
		writeDomainError(c, &workflow.InvalidTransitionError{
			ApplicationID: app.ID, From: app.Status, Event: "checkout",
		})
		return
	}

	refNumber := fmt.Sprintf("SCH-%d-%s", app.ID, strings.ToUpper(uuid.NewString()[:8]))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	session, err := h.Gateway.CreateCheckout(ctx, app.Amount, refNumber,
		fmt.Sprintf("Scholarship disbursement for %s", app.StudentName),
		gateway.BillingInfo{Name: app.StudentName, Email: app.StudentEmail})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	payment, err := h.Flow.AttachCheckout(app.ID, workflow.CheckoutRef{
		ID:              session.ID,
		ReferenceNumber: session.ReferenceNumber,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	util.Success(c, util.Response{
		"checkout_url":     session.URL,
		"checkout_id":      session.ID,
		"reference_number": session.ReferenceNumber,
		"payment":          payment,
	})
}

// Disburse is the manual path: an admin enters method, provider,
// reference number and uploads the signed receipt. The receipt file is
// mandatory; its absence is a validation error, never defaulted.
func (h *ApplicationHandler) Disburse(c *gin.Context) {
	id, ok := h.appID(c)
	if !ok {
		return
	}

	method := strings.TrimSpace(c.PostForm("method"))
	providerName := strings.TrimSpace(c.PostForm("provider_name"))
	referenceNumber := strings.TrimSpace(c.PostForm("reference_number"))
	notes := c.PostForm("notes")

	fh, err := c.FormFile("receipt")
	if err != nil {
		util.FieldError(c, http.StatusUnprocessableEntity, "receipt", "receipt file is required")
		return
	}
	if err := h.Receipts.ValidateUpload(fh); err != nil {
		util.FieldError(c, http.StatusUnprocessableEntity, "receipt", err.Error())
		return
	}

	receiptPath, err := h.Receipts.SaveUpload(fh, fmt.Sprintf("manual-app%d", id))
	if err != nil {
		util.FieldError(c, http.StatusUnprocessableEntity, "receipt", err.Error())
		return
	}

	app, dis, err := h.Flow.DisburseManually(id, workflow.ManualInput{
		Method:          method,
		ProviderName:    providerName,
		ReferenceNumber: referenceNumber,
		ReceiptPath:     receiptPath,
		Notes:           notes,
	})
	if err != nil {
		var ve *ledger.ValidationError
		if errors.As(err, &ve) {
			util.FieldError(c, http.StatusUnprocessableEntity, ve.Field, ve.Message)
			return
		}
		writeDomainError(c, err)
		return
	}

	resp := util.Response{"application": app}
	if dis != nil {
		resp["disbursement"] = dis
	}
	util.Success(c, resp)
}
