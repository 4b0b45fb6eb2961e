package gcp

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

// BillingLinker performs the billing_linked step. With no account configured
// the step succeeds without calling the API.
type BillingLinker struct {
	api     BillingAPI
	account string
	log     zerolog.Logger
}

// NewBillingLinker creates the step. account may be "billingAccounts/<id>"
// or the bare id.
func NewBillingLinker(api BillingAPI, account string, logger zerolog.Logger) *BillingLinker {
	account = strings.TrimSpace(account)
	if account != "" && !strings.HasPrefix(account, "billingAccounts/") {
		account = "billingAccounts/" + account
	}
	return &BillingLinker{
		api:     api,
		account: account,
		log:     logger.With().Str("component", "billing-linker").Logger(),
	}
}

// Step implements engine.StepRunner.
func (b *BillingLinker) Step() engine.Step { return engine.StepBillingLinked }

// Run implements engine.StepRunner.
func (b *BillingLinker) Run(ctx context.Context, rec *engine.ClientRecord) error {
	id := rec.ProjectID
	if b.account == "" {
		b.log.Debug().Str("project_id", id).Msg("no billing account configured, skipping")
		return nil
	}

	info, err := b.api.GetBillingInfo(ctx, id)
	if err != nil {
		return Classify("projects.getBillingInfo", id, err)
	}
	if info.Enabled && info.AccountName == b.account {
		b.log.Info().Str("project_id", id).Msg("billing already linked")
		return nil
	}

	if err := b.api.UpdateBillingInfo(ctx, id, b.account); err != nil {
		err = Classify("projects.updateBillingInfo", id, err)
		if engine.IsAlreadyExists(err) {
			return nil
		}
		return err
	}

	b.log.Info().Str("project_id", id).Str("billing_account", b.account).Msg("billing linked")
	return nil
}

var _ engine.StepRunner = (*BillingLinker)(nil)
