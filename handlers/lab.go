package handlers

import (
	"io"
	"net/http"
	"time"

	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

// maxLabMessageSize caps HL7 result uploads
const maxLabMessageSize = 10 << 20

// CreateLabOrderHandler generates a lab order for the tests of a visit
func CreateLabOrderHandler(c echo.Context) error {
	var patient services.PatientData
	if err := bindJSON(c, &patient); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	order, err := services.GenerateLabOrder(db.DB, visit, patient, time.Now())
	if err != nil {
		return respondError(c, err)
	}

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionCreate,
		"LabOrder", order.ID, order.OrderNumber, "Lab order generated", nil, nil)

	return success(c, http.StatusCreated, map[string]interface{}{"order": order})
}

// ListLabOrdersHandler returns the lab orders of a visit
func ListLabOrdersHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	orders, err := services.ListLabOrders(db.DB, visit)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"orders": orders})
}

// CancelLabOrderHandler cancels a pending lab order
func CancelLabOrderHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	orderNumber := c.Param("orderNumber")
	orders, err := services.CancelLabOrder(db.DB, visit, orderNumber)
	if err != nil {
		return respondError(c, err)
	}

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionUpdate,
		"LabOrder", orderNumber, orderNumber, "Lab order canceled", nil, nil)

	return success(c, http.StatusOK, map[string]interface{}{"orders": orders})
}

// ReceiveLabResultHandler accepts an HL7 result message as the raw body
func ReceiveLabResultHandler(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxLabMessageSize))
	if err != nil {
		return respondError(c, services.ValidationError("invalid-body", "failed to read message"))
	}

	result, err := services.ProcessLabResult(c.Request().Context(), db.DB, services.Storage, string(body))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusCreated, map[string]interface{}{
		"result_id": result.ID,
		"order_id":  result.OrderID,
		"visit_id":  result.VisitID,
	})
}
