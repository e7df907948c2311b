package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"control_miles/internal/models"
)

type vehicleInput struct {
	Name            string  `json:"name" binding:"required"`
	Make            string  `json:"make"`
	Model           string  `json:"model"`
	Year            int     `json:"year"`
	LicensePlate    string  `json:"license_plate"`
	FuelType        string  `json:"fuel_type"`
	InitialOdometer float64 `json:"initial_odometer"`
	CurrentOdometer float64 `json:"current_odometer"`
}

func (in vehicleInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return models.NewValidationError("name", "must not be blank")
	}
	if in.InitialOdometer < 0 || in.CurrentOdometer < 0 {
		return models.NewValidationError("odometer", "must be >= 0")
	}
	if in.CurrentOdometer != 0 && in.CurrentOdometer < in.InitialOdometer {
		return models.NewValidationError("current_odometer", "must be >= initial_odometer")
	}
	return nil
}

func (in vehicleInput) apply(v *models.Vehicle) {
	v.Name = strings.TrimSpace(in.Name)
	v.Make = in.Make
	v.Model = in.Model
	v.Year = in.Year
	v.LicensePlate = in.LicensePlate
	v.FuelType = in.FuelType
	v.InitialOdometer = in.InitialOdometer
	v.CurrentOdometer = in.CurrentOdometer
	if v.CurrentOdometer == 0 {
		v.CurrentOdometer = v.InitialOdometer
	}
}

// CreateVehicle registers a vehicle. The first vehicle becomes the active one.
func CreateVehicle(c *gin.Context) {
	var input vehicleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle input: " + err.Error()})
		return
	}
	if err := input.validate(); err != nil {
		respondError(c, err)
		return
	}

	vehicle := models.Vehicle{ID: uuid.NewString()}
	input.apply(&vehicle)
	if err := deps.Vehicles.CreateVehicle(c.Request.Context(), &vehicle); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"vehicle": vehicle})
}

func ListVehicles(c *gin.Context) {
	vehicles, err := deps.Vehicles.ListVehicles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

func GetVehicle(c *gin.Context) {
	vehicle, err := deps.Vehicles.GetVehicle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicle": vehicle})
}

// UpdateVehicle replaces a vehicle's details. The active flag only changes
// through ActivateVehicle.
func UpdateVehicle(c *gin.Context) {
	ctx := c.Request.Context()
	vehicle, err := deps.Vehicles.GetVehicle(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var input vehicleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update"})
		return
	}
	if err := input.validate(); err != nil {
		respondError(c, err)
		return
	}
	input.apply(&vehicle)
	if err := deps.Vehicles.UpdateVehicle(ctx, &vehicle); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicle": vehicle})
}

// ActivateVehicle selects the vehicle trips are attributed to.
func ActivateVehicle(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("id")
	if err := deps.Vehicles.ActivateVehicle(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	vehicle, err := deps.Vehicles.GetVehicle(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicle": vehicle})
}
