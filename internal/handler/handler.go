package handler

import (
	"context"
	"net/http"

	"github.com/mailmerge/mailmerge/internal/auth"
	"github.com/mailmerge/mailmerge/internal/config"
	"github.com/mailmerge/mailmerge/internal/email"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/mailmerge/mailmerge/internal/service"
	"github.com/mailmerge/mailmerge/internal/sheet"
)

// Account is the signed-in Gmail account
type Account interface {
	Authenticated(ctx context.Context) bool
	Client(ctx context.Context) (*http.Client, error)
	Mailbox(ctx context.Context) (email.Mailbox, error)
	Complete(ctx context.Context, code string) error
	Logout(ctx context.Context) error
}

// RunLister lists completed runs
type RunLister interface {
	List(ctx context.Context, limit int) ([]*model.Summary, error)
}

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SheetSource loads recipient rows from a spreadsheet
type SheetSource interface {
	Load(ctx context.Context, spreadsheet, readRange string) (*model.RowSet, error)
}

// Handler holds all HTTP handlers
type Handler struct {
	log     *logger.Logger
	cfg     *config.Config
	merge   *service.MergeService
	account Account
	oauth   *auth.GoogleOAuth
	states  *auth.StateSigner
	runs    RunLister
	checks  map[string]HealthChecker

	openSheet func(ctx context.Context, client *http.Client) (SheetSource, error)
}

// New creates a new Handler instance. runs may be nil when run history is
// disabled; checks names the optional backing services.
func New(
	log *logger.Logger,
	cfg *config.Config,
	merge *service.MergeService,
	account Account,
	oauth *auth.GoogleOAuth,
	states *auth.StateSigner,
	runs RunLister,
	checks map[string]HealthChecker,
) *Handler {
	return &Handler{
		log:     log.WithComponent("http"),
		cfg:     cfg,
		merge:   merge,
		account: account,
		oauth:   oauth,
		states:  states,
		runs:    runs,
		checks:  checks,
		openSheet: func(ctx context.Context, client *http.Client) (SheetSource, error) {
			return sheet.NewGoogleSheetSource(ctx, client)
		},
	}
}
