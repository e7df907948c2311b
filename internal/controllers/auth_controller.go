package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"control_miles/internal/middleware"
)

type tokenInput struct {
	Driver   string `json:"driver" binding:"required"`
	Passcode string `json:"passcode" binding:"required"`
}

// IssueToken exchanges the device passcode for a signed token. The driver
// name becomes the applied_by of every correction made with it.
func IssueToken(c *gin.Context) {
	if len(deps.PasscodeHash) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token issuance is disabled"})
		return
	}

	var input tokenInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	driver := strings.TrimSpace(input.Driver)
	if driver == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "driver must not be blank"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(deps.PasscodeHash, []byte(input.Passcode)); err != nil {
		logrus.WithField("driver", driver).Warn("Token request with wrong passcode.")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := middleware.GenerateToken(driver, "driver")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "driver": driver})
}
