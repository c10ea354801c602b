package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
)

type createOrderResponse struct {
	OrderID string             `json:"orderId"`
	Order   *orderdomain.Order `json:"order"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req orderdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, createOrderResponse{OrderID: order.OrderID, Order: order})
}

func (s *Server) ListOrders(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
		Email  string `form:"email"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orders, err := s.orderSvc.List(c.Request.Context(), orderdomain.ListRequest{
		Status: strings.TrimSpace(query.Status),
		Email:  strings.TrimSpace(query.Email),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, orders)
}

func (s *Server) GetOrder(c *gin.Context) {
	order, err := s.orderSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("orderId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, order)
}

func (s *Server) CancelOrder(c *gin.Context) {
	order, err := s.orderSvc.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("orderId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, order)
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	var req updateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		AbortWithError(c, newRequestError("Missing required field: status"))
		return
	}

	status := orderdomain.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	order, err := s.orderSvc.UpdateStatus(c.Request.Context(), strings.TrimSpace(c.Param("orderId")), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, order)
}

func (s *Server) GetOrderReceipt(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("orderId"))
	receipt, err := s.orderSvc.Receipt(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(receipt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, orderID))
	c.Data(http.StatusOK, "application/pdf", body)
}
