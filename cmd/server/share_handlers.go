package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davcore/davcore/internal/middleware"
	"github.com/davcore/davcore/internal/models"
	"github.com/davcore/davcore/internal/share"
)

func handleCreateShare(shareService *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString(middleware.ContextUsername)

		var req models.CreateShareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := shareService.CreateShare(c.Request.Context(), owner, &req)
		if err != nil {
			if errors.Is(err, share.ErrInvalidRequest) || errors.Is(err, share.ErrInvalidAccess) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create share"})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func handleListShares(shareService *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		shares, err := shareService.ListUserShares(c.Request.Context(), c.GetString(middleware.ContextUsername))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list shares"})
			return
		}

		c.JSON(http.StatusOK, shares)
	}
}

func handleDeleteShare(shareService *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		shareID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid share id"})
			return
		}

		if err := shareService.DeleteShare(c.Request.Context(), shareID, c.GetString(middleware.ContextUsername)); err != nil {
			switch {
			case errors.Is(err, share.ErrShareNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "share not found"})
			case errors.Is(err, share.ErrUnauthorized):
				c.JSON(http.StatusForbidden, gin.H{"error": "share belongs to another user"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete share"})
			}
			return
		}

		c.Status(http.StatusNoContent)
	}
}
