package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/receipt"
	"scholarship-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// BudgetHandler serves budget allocation, snapshots, the ledger log and
// partner-school withdrawals.
type BudgetHandler struct {
	Store    *ledger.Store
	Receipts *receipt.Service
}

func NewBudgetHandler(store *ledger.Store, receipts *receipt.Service) *BudgetHandler {
	return &BudgetHandler{Store: store, Receipts: receipts}
}

type allocateReq struct {
	AcademicYear    string `json:"academic_year" binding:"required"`
	AllocatedAmount int64  `json:"allocated_amount"`
	ExpiryDate      string `json:"expiry_date"`
}

func budgetResp(b *models.Budget) gin.H {
	return gin.H{
		"id":               b.ID,
		"school_id":        b.SchoolID,
		"academic_year":    b.AcademicYear,
		"allocated_amount": b.AllocatedAmount,
		"disbursed_amount": b.DisbursedAmount,
		"reserved_amount":  b.ReservedAmount,
		"available_amount": b.AvailableAmount(),
		"status":           b.Status,
		"expiry_date":      b.ExpiryDate,
	}
}

// Allocate creates or adjusts the budget for a school/year. Reductions
// below disbursed+reserved are rejected before any write.
func (h *BudgetHandler) Allocate(c *gin.Context) {
	schoolID := c.Param("schoolId")

	var req allocateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid parameters")
		return
	}
	if err := util.ValidateAcademicYear(req.AcademicYear); err != nil {
		util.FieldError(c, http.StatusBadRequest, "academic_year", err.Error())
		return
	}
	if err := util.ValidateAmount(req.AllocatedAmount); err != nil {
		util.FieldError(c, http.StatusBadRequest, "allocated_amount", err.Error())
		return
	}

	var expiry *time.Time
	if req.ExpiryDate != "" {
		t, err := util.ValidateDate(req.ExpiryDate)
		if err != nil {
			util.FieldError(c, http.StatusBadRequest, "expiry_date", err.Error())
			return
		}
		expiry = &t
	}

	budget, err := h.Store.Allocate(schoolID, req.AcademicYear, req.AllocatedAmount, expiry)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	util.Success(c, util.Response{"budget": budgetResp(budget)})
}

// Get returns the current budget snapshot for a school.
func (h *BudgetHandler) Get(c *gin.Context) {
	budget, err := h.Store.BudgetForSchool(c.Param("schoolId"), c.Query("year"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	util.Success(c, util.Response{"budget": budgetResp(budget)})
}

// Ledger pages the append-only transaction log, newest first.
func (h *BudgetHandler) Ledger(c *gin.Context) {
	budget, err := h.Store.BudgetForSchool(c.Param("schoolId"), c.Query("year"))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	entries, err := h.Store.Transactions(budget.ID, limit, offset)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "failed to load ledger")
		return
	}

	util.Success(c, util.Response{
		"budget_id":    budget.ID,
		"transactions": entries,
	})
}

// ExportLedger streams the full transaction log for one budget as xlsx,
// the format the audit consumers already ingest.
func (h *BudgetHandler) ExportLedger(c *gin.Context) {
	budget, err := h.Store.BudgetForSchool(c.Param("schoolId"), c.Query("year"))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	entries, err := h.Store.Transactions(budget.ID, 200, 0)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "failed to load ledger")
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Ledger"
	index, err := f.NewSheet(sheet)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "failed to create sheet")
		return
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"Date", "Type", "Amount", "Balance Before", "Balance After", "Reference", "Idempotency Key", "Notes"}
	for i, hd := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheet, cell, hd)
	}
	for idx, e := range entries {
		row := idx + 2
		key := ""
		if e.IdempotencyKey != nil {
			key = *e.IdempotencyKey
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), e.CreatedAt.Format("2006-01-02 15:04:05"))
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), e.Type)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), receipt.FormatAmount(e.Amount))
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), receipt.FormatAmount(e.BalanceBefore))
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), receipt.FormatAmount(e.BalanceAfter))
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), e.ReferenceType+":"+e.ReferenceID)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), key)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), e.Notes)
	}

	filename := fmt.Sprintf("ledger-%s-%s.xlsx", budget.SchoolID, budget.AcademicYear)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		// headers already sent, nothing sane to answer
		return
	}
}

// Withdraw is the partner-school self-service path: a direct deduction
// with a mandatory proof document and no reservation phase.
func (h *BudgetHandler) Withdraw(c *gin.Context) {
	budget, err := h.Store.BudgetForSchool(c.Param("schoolId"), c.PostForm("academic_year"))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	amount, err := strconv.ParseInt(c.PostForm("amount"), 10, 64)
	if err != nil {
		util.FieldError(c, http.StatusBadRequest, "amount", "must be an integer amount in minor units")
		return
	}
	if err := util.ValidateAmount(amount); err != nil {
		util.FieldError(c, http.StatusBadRequest, "amount", err.Error())
		return
	}
	if amount > budget.AvailableAmount() {
		util.Error(c, http.StatusBadRequest, util.CodeInsufficientFunds,
			fmt.Sprintf("amount %d exceeds available %d", amount, budget.AvailableAmount()))
		return
	}

	proof, err := c.FormFile("proof")
	if err != nil {
		util.FieldError(c, http.StatusBadRequest, "proof", "proof document is required")
		return
	}
	proofPath, err := h.Receipts.SaveUpload(proof, fmt.Sprintf("withdrawal-%s", budget.SchoolID))
	if err != nil {
		util.FieldError(c, http.StatusBadRequest, "proof", err.Error())
		return
	}

	entry, err := h.Store.Withdraw(budget.ID, amount, proofPath, c.PostForm("notes"))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	fresh, err := h.Store.BudgetForSchool(budget.SchoolID, budget.AcademicYear)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	util.Success(c, util.Response{
		"transaction": entry,
		"budget":      budgetResp(fresh),
	})
}
