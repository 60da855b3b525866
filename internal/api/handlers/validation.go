package handlers

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
)

var registerOnce sync.Once

// RegisterValidations adds the custom binding tags used by the handlers
func RegisterValidations() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("sui_address", func(fl validator.FieldLevel) bool {
				_, err := bcs.ParseAddress(fl.Field().String())
				return err == nil
			})
		}
	})
}

// normalizeAddress renders an already validated address in canonical form
func normalizeAddress(s string) string {
	if s == "" {
		return ""
	}
	addr, err := bcs.ParseAddress(s)
	if err != nil {
		return s
	}
	return addr.String()
}
