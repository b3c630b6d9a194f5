package engine

import (
	"signalbot/internal/logger"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithScope(logger.Scope{Component: "engine", Session: e.session})
}

func (e *Engine) componentEntry(component, symbol string) *logrus.Entry {
	return e.log.WithScope(logger.Scope{Component: component, Session: e.session, Symbol: symbol})
}

func (e *Engine) ticketEntry(component, symbol string, ticket int64) *logrus.Entry {
	return e.log.WithScope(logger.Scope{Component: component, Session: e.session, Symbol: symbol, Ticket: ticket})
}

func formatFloatPlain(val float64) string {
	formatted := strconv.FormatFloat(val, 'f', 8, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	if formatted == "" || formatted == "-0" {
		return "0"
	}
	return formatted
}
