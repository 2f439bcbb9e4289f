package repomanager

import (
	"context"
	"database/sql"

	"github.com/floodyc/AfterLiving/internal/dbx"
	"github.com/floodyc/AfterLiving/internal/server/repositories/access"
	"github.com/floodyc/AfterLiving/internal/server/repositories/audit"
	"github.com/floodyc/AfterLiving/internal/server/repositories/jobs"
	"github.com/floodyc/AfterLiving/internal/server/repositories/messages"
	"github.com/floodyc/AfterLiving/internal/server/repositories/plans"
	"github.com/floodyc/AfterLiving/internal/server/repositories/requests"
	"github.com/floodyc/AfterLiving/internal/server/repositories/verifiers"
)

// RepositoryManager vends repository implementations bound to a DBTX at the
// call site, so the same constructor works inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Plans(db dbx.DBTX) plans.Repository
	Verifiers(db dbx.DBTX) verifiers.Repository
	Requests(db dbx.DBTX) requests.Repository
	Messages(db dbx.DBTX) messages.Repository
	Access(db dbx.DBTX) access.Repository
	Jobs(db dbx.DBTX) jobs.Repository
	Audit(db dbx.DBTX) audit.Repository
}
