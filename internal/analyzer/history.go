package analyzer

import (
	"github.com/bdougie/medai/internal/models"
)

// Entry builds the history record for one finished action. A failed action
// is recorded with its labelled error text as the result.
func Entry(kind models.Kind, input, result string, err error) models.HistoryEntry {
	if err == nil {
		return models.NewHistoryEntry(kind, input, result)
	}
	e := models.NewHistoryEntry(kind, input, err.Error())
	e.Status = models.StatusError
	e.ErrorKind = string(KindOf(err))
	if e.ErrorKind == "" {
		e.ErrorKind = string(KindGateway)
	}
	return e
}
