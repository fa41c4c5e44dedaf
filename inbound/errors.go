package inbound

import (
	"net/http"

	"github.com/goliatone/go-atlassian-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

// rejection is the envelope shape for one way a delivery can be turned away.
type rejection struct {
	category goerrors.Category
	status   int
	textCode string
}

var (
	rejectBadInput = rejection{goerrors.CategoryBadInput, http.StatusBadRequest, core.SyncErrorBadInput}
	rejectInternal = rejection{goerrors.CategoryInternal, http.StatusInternalServerError, core.SyncErrorInternal}
	rejectSource   = rejection{goerrors.CategoryNotFound, http.StatusNotFound, core.SyncErrorNotFound}
	rejectAuth     = rejection{goerrors.CategoryAuth, http.StatusUnauthorized, core.SyncErrorUnauthorized}
	rejectClaim    = rejection{goerrors.CategoryOperation, http.StatusServiceUnavailable, core.SyncErrorPersistence}
	rejectInFlight = rejection{goerrors.CategoryConflict, http.StatusConflict, core.SyncErrorConflict}
	rejectPending  = rejection{goerrors.CategoryOperation, http.StatusServiceUnavailable, core.SyncErrorConflict}
)

// with builds the envelope, wrapping cause when there is one.
func (r rejection) with(message string, cause error, fields map[string]any) *goerrors.Error {
	var err *goerrors.Error
	if cause == nil {
		err = goerrors.New(message, r.category)
	} else {
		err = goerrors.Wrap(cause, r.category, message)
	}
	err = err.WithCode(r.status).WithTextCode(r.textCode)
	if len(fields) > 0 {
		err = err.WithMetadata(fields)
	}
	return err
}
