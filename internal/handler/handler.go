package handler

import (
	"crm-auth-service/internal/tenancy"
	"crm-auth-service/internal/token"

	"gorm.io/gorm"
)

var (
	db       *gorm.DB
	tokens   *token.Service
	resolver *tenancy.Resolver
)

// Init wires the handlers to their collaborators
func Init(database *gorm.DB, tokenService *token.Service, tenancyResolver *tenancy.Resolver) {
	db = database
	tokens = tokenService
	resolver = tenancyResolver
}
