package httpapi

import (
	"fmt"
	"net/http"

	"github.com/goliatone/go-atlassian-sync/core"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
)

type errorBody struct {
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Category string         `json:"category"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// respondError writes the sync error envelope. The status comes from the
// error code when set, else from its category.
func respondError(c *gin.Context, err error) {
	mapped := core.MapError(err)
	if mapped == nil {
		mapped = goerrors.New("unknown error", goerrors.CategoryInternal)
	}
	status := mapped.Code
	if status < http.StatusBadRequest || status > 599 {
		status = core.HTTPStatus(mapped.Category)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{
		TextCode: mapped.TextCode,
		Message:  mapped.Message,
		Category: fmt.Sprint(mapped.Category),
		Metadata: mapped.Metadata,
	}})
}
