package main

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
)

// registerValidators adds the "subdomain" binding tag. It checks the label format only;
// reserved names are left to the workflow so they are reported as such.
func registerValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected gin validator engine")
	}
	return v.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
		return identity.ValidSubdomain(identity.NormalizeSubdomain(fl.Field().String()))
	})
}
