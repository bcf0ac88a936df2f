package repository

import "github.com/rpattn/agentstats/internal/db"

// NewRepositories wires every Postgres repository onto the same executor,
// either a pool or a transaction.
func NewRepositories(exec db.DBTX) Repositories {
	return Repositories{
		Users:                  NewShadowUserRepository(exec),
		Clients:                NewShadowClientRepository(exec),
		Agents:                 NewShadowAgentRepository(exec),
		ClientUsers:            NewShadowClientUserRepository(exec),
		ProvisioningReferences: NewShadowProvisioningReferenceRepository(exec),
		Activity:               NewActivityRepository(exec),
		Events:                 NewEntityEventRepository(exec),
		Statistics:             NewStatisticsRepository(exec),
	}
}
