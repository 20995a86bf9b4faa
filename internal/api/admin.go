package api

import (
	"net/http"

	"mcstore/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) dashboard(c *gin.Context) {
	data, err := h.Server.Dashboard(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"data": data})
}

func (h *Handler) registrationTrends(c *gin.Context) {
	points, err := h.Server.RegistrationTrends(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"data": points})
}

func (h *Handler) newPlayerTrends(c *gin.Context) {
	points, err := h.Server.NewPlayerTrends(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"data": points})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.Users.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"count": len(users), "users": users})
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.Users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"user": user})
}

func (h *Handler) updateUser(c *gin.Context) {
	var req service.UserUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	user, err := h.Users.UpdateUser(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "User updated successfully.", "user": user})
}

func (h *Handler) setAdminStatus(c *gin.Context) {
	var req struct {
		IsAdmin *int `json:"is_admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsAdmin == nil {
		badRequest(c, "Invalid is_admin value")
		return
	}

	if err := h.Users.SetAdmin(c.Request.Context(), c.Param("id"), *req.IsAdmin); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "User admin status updated successfully."})
}

func (h *Handler) deleteUser(c *gin.Context) {
	if err := h.Users.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "User deleted successfully."})
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.Catalog.ProductsByCategory(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.Catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"product": product})
}

func (h *Handler) createProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	product, err := h.Catalog.CreateProduct(c.Request.Context(), &in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"product": product})
}

func (h *Handler) updateProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	product, err := h.Catalog.UpdateProduct(c.Request.Context(), c.Param("id"), &in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"product": product})
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.Catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Product deleted successfully."})
}

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.Catalog.Categories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"count": len(categories), "categories": categories})
}

func (h *Handler) createCategory(c *gin.Context) {
	var in service.CategoryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	category, err := h.Catalog.CreateCategory(c.Request.Context(), &in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"category": category})
}

func (h *Handler) updateCategory(c *gin.Context) {
	var in service.CategoryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	category, err := h.Catalog.UpdateCategory(c.Request.Context(), c.Param("id"), &in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"category": category})
}

func (h *Handler) deleteCategory(c *gin.Context) {
	if err := h.Catalog.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Category deleted successfully."})
}
