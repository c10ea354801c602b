package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
)

// ListProducts returns a single product when ?id= is given, otherwise the
// active catalog filtered by category and search.
func (s *Server) ListProducts(c *gin.Context) {
	var query struct {
		ID       string `form:"id"`
		Category string `form:"category"`
		Search   string `form:"search"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if id := strings.TrimSpace(query.ID); id != "" {
		product, err := s.productSvc.Get(c.Request.Context(), id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		respondOK(c, product)
		return
	}

	products, err := s.productSvc.List(c.Request.Context(), catalogdomain.ListRequest{
		Category: strings.TrimSpace(query.Category),
		Search:   strings.TrimSpace(query.Search),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, products)
}

func (s *Server) CreateProduct(c *gin.Context) {
	var req catalogdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	product, err := s.productSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, product)
}

func (s *Server) UpdateProduct(c *gin.Context) {
	var req catalogdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	product, err := s.productSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, product)
}

func (s *Server) ArchiveProduct(c *gin.Context) {
	product, err := s.productSvc.Archive(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, product)
}

type adjustStockRequest struct {
	Delta *int `json:"delta"`
}

func (s *Server) AdjustProductStock(c *gin.Context) {
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Delta == nil {
		AbortWithError(c, newRequestError("Missing required field: delta"))
		return
	}

	product, err := s.productSvc.AdjustStock(c.Request.Context(), strings.TrimSpace(c.Param("id")), *req.Delta)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, product)
}
