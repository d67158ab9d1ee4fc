package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/storefront/internal/core/domain"
)

func errorView(err error) ErrorView {
	v := ErrorView{Code: domain.Code(err), Message: err.Error()}
	var co *domain.CheckoutError
	if errors.As(err, &co) {
		v.Rejections = rejectionViews(co.Rejections)
	}
	if v.Code == "INTERNAL" {
		v.Message = "internal error"
	}
	return v
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrStockConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOutOfStock), errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusGone
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSchema):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrStateConflict), errors.Is(err, domain.ErrSchema):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, domain.ErrPersistence):
		return codes.Unavailable
	}
	return codes.Internal
}
