package handler

import (
	"errors"
	"net/http"

	"scholarship-ledger/internal/gateway"
	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/util"
	"scholarship-ledger/internal/workflow"

	"github.com/gin-gonic/gin"
)

// writeDomainError maps domain errors onto the unified envelope. Ledger
// invariant violations are 400s, state-machine rejections 422s, lock
// conflicts that survived the retry 409s, gateway outages 502s.
func writeDomainError(c *gin.Context, err error) {
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		util.FieldError(c, http.StatusBadRequest, ve.Field, ve.Message)
		return
	}

	var ife *ledger.InsufficientFundsError
	if errors.As(err, &ife) {
		util.Error(c, http.StatusBadRequest, util.CodeInsufficientFunds, ife.Error())
		return
	}

	var ite *workflow.InvalidTransitionError
	if errors.As(err, &ite) {
		util.Error(c, http.StatusUnprocessableEntity, util.CodeUnprocessable, ite.Error())
		return
	}

	var cce *ledger.ConcurrencyConflictError
	if errors.As(err, &cce) {
		util.Error(c, http.StatusConflict, util.CodeConflict, "budget is busy, please retry")
		return
	}

	var gue *gateway.GatewayUnavailableError
	if errors.As(err, &gue) {
		util.Error(c, http.StatusBadGateway, util.CodeGateway, "payment gateway unavailable, checkout is pending")
		return
	}

	switch {
	case errors.Is(err, ledger.ErrBudgetNotFound):
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "budget not found")
	case errors.Is(err, workflow.ErrApplicationNotFound):
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "application not found")
	case errors.Is(err, ledger.ErrBudgetInactive):
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "budget is expired")
	default:
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "internal error")
	}
}
