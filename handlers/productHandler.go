package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/middlewares"
	"github.com/mmdatafocus/retail_backend/models"
)

type productResponse struct {
	models.Product
	Stock int `json:"stock"`
}

func (h *Handler) withStock(c *gin.Context, products []models.Product) ([]productResponse, error) {
	skus := make([]string, len(products))
	for i, p := range products {
		skus[i] = p.Sku
	}
	records, errs := middlewares.GetInventories(c.Request.Context(), skus)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = productResponse{Product: p}
		if i < len(records) && records[i] != nil {
			out[i].Stock = records[i].TotalQuantity
		}
	}
	return out, nil
}

func (h *Handler) createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := bindJSON(c, &input); err != nil {
			h.respondError(c, "createProduct", err)
			return
		}
		product, err := h.deps.Products.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			h.respondError(c, "createProduct", err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func (h *Handler) listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := h.deps.Products.ListProducts(c.Request.Context())
		if err != nil {
			h.respondError(c, "listProducts", err)
			return
		}
		out, err := h.withStock(c, products)
		if err != nil {
			h.respondError(c, "listProducts", err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handler) getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		product, err := h.deps.Products.GetProduct(c.Request.Context(), c.Param("sku"))
		if err != nil {
			h.respondError(c, "getProduct", err)
			return
		}
		out, err := h.withStock(c, []models.Product{*product})
		if err != nil {
			h.respondError(c, "getProduct", err)
			return
		}
		c.JSON(http.StatusOK, out[0])
	}
}

func (h *Handler) updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := bindJSON(c, &input); err != nil {
			h.respondError(c, "updateProduct", err)
			return
		}
		product, err := h.deps.Products.UpdateProduct(c.Request.Context(), c.Param("sku"), &input)
		if err != nil {
			h.respondError(c, "updateProduct", err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}
