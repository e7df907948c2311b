package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"control_miles/internal/detection"
	"control_miles/internal/models"
)

func GetDetectionSettings(c *gin.Context) {
	s, err := deps.Settings.Current(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": s})
}

// UpdateDetectionSettings applies a partial update. A rejected update answers
// with the unchanged settings next to the error.
func UpdateDetectionSettings(c *gin.Context) {
	var patch detection.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := deps.Settings.Update(c.Request.Context(), patch)
	if errors.Is(err, models.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "settings": s})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": s})
}
