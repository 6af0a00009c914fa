package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// hardware_id accepts the two fingerprint formats devices identify with
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("hardware_id", func(fl validator.FieldLevel) bool {
			_, ok := validHardwareID(fl.Field().String())
			return ok
		})
	}
}
