// syncstub is a development stand-in for the remote PedidoList API. It keeps
// records in memory and mimics the behaviors the sync engine must handle:
// bearer auth, validation rejections, version conflicts carrying the server
// copy, and forced failures for retry testing.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/pedidolist/pedidolist-core/internal/models"
)

type stub struct {
	mu         sync.Mutex
	orders     map[models.UUID]*models.Order
	products   map[models.UUID]*models.Product
	categories map[models.UUID]*models.BusinessCategory

	token    string
	validate *validatorv10.Validate
}

func newStub(token string) *stub {
	v := validatorv10.New()
	v.RegisterStructValidation(orderStructValidation, models.Order{})
	v.RegisterStructValidation(productStructValidation, models.Product{})
	v.RegisterStructValidation(categoryStructValidation, models.BusinessCategory{})

	return &stub{
		orders:     make(map[models.UUID]*models.Order),
		products:   make(map[models.UUID]*models.Product),
		categories: make(map[models.UUID]*models.BusinessCategory),
		token:      token,
		validate:   v,
	}
}

// orderStructValidation mirrors the server's order rules: identity fields are
// required and the total must match the line items.
func orderStructValidation(sl validatorv10.StructLevel) {
	o := sl.Current().Interface().(models.Order)
	if o.ID == "" {
		sl.ReportError(o.ID, "id", "ID", "required", "")
	}
	if o.BusinessID == "" {
		sl.ReportError(o.BusinessID, "business_id", "BusinessID", "required", "")
	}
	if o.CustomerName == "" {
		sl.ReportError(o.CustomerName, "customer_name", "CustomerName", "required", "")
	}
	if o.DeliveryDate == "" {
		sl.ReportError(o.DeliveryDate, "delivery_date", "DeliveryDate", "required", "")
	}

	var sum float64
	for _, it := range o.Items {
		sum += float64(it.Quantity) * it.UnitPrice
	}
	if fmt.Sprintf("%.2f", sum) != fmt.Sprintf("%.2f", o.Total) {
		sl.ReportError(o.Total, "total", "Total", "total_match_items",
			fmt.Sprintf("items sum %.2f != total %.2f", sum, o.Total))
	}
}

func productStructValidation(sl validatorv10.StructLevel) {
	p := sl.Current().Interface().(models.Product)
	if p.ID == "" {
		sl.ReportError(p.ID, "id", "ID", "required", "")
	}
	if p.BusinessID == "" {
		sl.ReportError(p.BusinessID, "business_id", "BusinessID", "required", "")
	}
	if p.Name == "" {
		sl.ReportError(p.Name, "name", "Name", "required", "")
	}
	if p.Price < 0 {
		sl.ReportError(p.Price, "price", "Price", "gte", "0")
	}
}

func categoryStructValidation(sl validatorv10.StructLevel) {
	c := sl.Current().Interface().(models.BusinessCategory)
	if c.ID == "" {
		sl.ReportError(c.ID, "id", "ID", "required", "")
	}
	if c.BusinessID == "" {
		sl.ReportError(c.BusinessID, "business_id", "BusinessID", "required", "")
	}
	if c.Name == "" {
		sl.ReportError(c.Name, "name", "Name", "required", "")
	}
}

// authRequired rejects requests without the configured bearer token.
func (s *stub) authRequired(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.Next()
}

// forcedFailure lets a client script failures: the X-Debug-Status header
// makes the stub answer with that status instead of processing.
func forcedFailure(c *gin.Context) {
	if raw := c.GetHeader("X-Debug-Status"); raw != "" {
		if status, err := strconv.Atoi(raw); err == nil && status >= 400 {
			c.AbortWithStatusJSON(status, gin.H{"error": "forced_failure"})
			return
		}
	}
	c.Next()
}

func (s *stub) validationErrors(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validatorv10.ValidationErrors); ok {
		for _, fe := range ve {
			out[fe.StructNamespace()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}

// =====================================================
// Orders
// =====================================================

func (s *stub) createOrder(c *gin.Context) {
	var o models.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	if err := s.validate.Struct(o); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": s.validationErrors(err)})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The client id is the idempotency key: a repeated create of the same
	// record answers with the stored copy instead of a duplicate.
	if _, ok := s.orders[o.ID]; ok {
		c.JSON(http.StatusOK, gin.H{"id": string(o.ID)})
		return
	}
	s.orders[o.ID] = &o
	c.JSON(http.StatusCreated, gin.H{"id": string(o.ID)})
}

func (s *stub) updateOrder(c *gin.Context) {
	var o models.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	if err := s.validate.Struct(o); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": s.validationErrors(err)})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[o.ID]
	if !ok {
		s.orders[o.ID] = &o
		c.JSON(http.StatusOK, gin.H{"id": string(o.ID)})
		return
	}
	// A stale client version means the server copy moved on; the client gets
	// the server copy back and resolves the conflict.
	if o.Version <= stored.Version && o.UpdatedAt != stored.UpdatedAt {
		c.JSON(http.StatusConflict, stored)
		return
	}
	s.orders[o.ID] = &o
	c.JSON(http.StatusOK, gin.H{"id": string(o.ID)})
}

func (s *stub) deleteOrder(c *gin.Context) {
	id := models.UUID(c.Param("id"))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	delete(s.orders, id)
	c.Status(http.StatusNoContent)
}

// =====================================================
// Products
// =====================================================

func (s *stub) createProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	if err := s.validate.Struct(p); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": s.validationErrors(err)})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		c.JSON(http.StatusOK, gin.H{"id": string(p.ID)})
		return
	}
	s.products[p.ID] = &p
	c.JSON(http.StatusCreated, gin.H{"id": string(p.ID)})
}

func (s *stub) updateProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	if err := s.validate.Struct(p); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": s.validationErrors(err)})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.products[p.ID]
	if ok && p.Version <= stored.Version && p.UpdatedAt != stored.UpdatedAt {
		c.JSON(http.StatusConflict, stored)
		return
	}
	s.products[p.ID] = &p
	c.JSON(http.StatusOK, gin.H{"id": string(p.ID)})
}

func (s *stub) deleteProduct(c *gin.Context) {
	id := models.UUID(c.Param("id"))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	delete(s.products, id)
	c.Status(http.StatusNoContent)
}

// =====================================================
// Business Categories
// =====================================================

func (s *stub) createCategory(c *gin.Context) {
	var cat models.BusinessCategory
	if err := c.ShouldBindJSON(&cat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	if err := s.validate.Struct(cat); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": s.validationErrors(err)})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[cat.ID]; ok {
		c.JSON(http.StatusOK, gin.H{"id": string(cat.ID)})
		return
	}
	s.categories[cat.ID] = &cat
	c.JSON(http.StatusCreated, gin.H{"id": string(cat.ID)})
}

func (s *stub) updateCategory(c *gin.Context) {
	var cat models.BusinessCategory
	if err := c.ShouldBindJSON(&cat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	if err := s.validate.Struct(cat); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": s.validationErrors(err)})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.categories[cat.ID]
	if ok && cat.Version <= stored.Version && cat.UpdatedAt != stored.UpdatedAt {
		c.JSON(http.StatusConflict, stored)
		return
	}
	s.categories[cat.ID] = &cat
	c.JSON(http.StatusOK, gin.H{"id": string(cat.ID)})
}

func (s *stub) router() *gin.Engine {
	r := gin.Default()
	r.Use(forcedFailure)

	authed := r.Group("/api", s.authRequired)
	authed.POST("/orders", s.createOrder)
	authed.PUT("/orders", s.updateOrder)
	authed.DELETE("/orders/:id", s.deleteOrder)

	authed.POST("/products", s.createProduct)
	authed.PUT("/products", s.updateProduct)
	authed.DELETE("/products/:id", s.deleteProduct)

	authed.POST("/business_categories", s.createCategory)
	authed.PUT("/business_categories", s.updateCategory)

	return r
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	token := flag.String("token", "dev-token", "accepted bearer token")
	flag.Parse()

	s := newStub(*token)
	if err := s.router().Run(*addr); err != nil {
		fmt.Println("syncstub failed:", err)
	}
}
