// Package api wraps the remote YOLOdice methods over a session. Every method
// returns the raw response envelope; a remote error stays in the envelope.
package api

import (
	"context"
	"fmt"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

// Caller is the part of session.Session the wrappers need.
type Caller interface {
	Do(ctx context.Context, method string, params any) (*models.Response, error)
	DoAuthenticated(ctx context.Context, method string, params any) (*models.Response, error)
	Identity() (models.Identity, bool)
}

type Client struct {
	s Caller
}

func New(s Caller) *Client {
	return &Client{s: s}
}

type selectorParams struct {
	Selector models.Selector `json:"selector"`
}

type attrsParams struct {
	Selector *models.Selector `json:"selector,omitempty"`
	Attrs    any              `json:"attrs"`
}

type createBetParams struct {
	Attrs        models.BetAttrs `json:"attrs"`
	IncludeDatas bool            `json:"includeDatas,omitempty"`
}

type statusParams struct {
	Status string `json:"status,omitempty"`
}

func byID(id int64) selectorParams {
	return selectorParams{Selector: models.Selector{ID: id}}
}

func patch(id int64, attrs any) attrsParams {
	return attrsParams{Selector: &models.Selector{ID: id}, Attrs: attrs}
}

func listParams(opts *models.ListOptions) any {
	if opts == nil {
		return struct{}{}
	}
	return opts
}

func (c *Client) ReadSiteData(ctx context.Context) (*models.Response, error) {
	return c.s.Do(ctx, "read_site_data", nil)
}

func (c *Client) ReadUser(ctx context.Context, id int64) (*models.Response, error) {
	return c.s.Do(ctx, "read_user", byID(id))
}

func (c *Client) ReadUserData(ctx context.Context, id int64) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_user_data", byID(id))
}

// GetBalance reads the logged-in user's data and returns its balance in
// satoshis. A remote error is returned as *models.RemoteError.
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	id, ok := c.s.Identity()
	if !ok {
		return 0, rpckit.ErrNotAuthenticated
	}
	resp, err := c.ReadUserData(ctx, id.ID)
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	var data models.UserData
	if err := resp.DecodeResult(&data); err != nil {
		return 0, fmt.Errorf("decode user data: %w", err)
	}
	return data.Balance, nil
}

// CreateBet places a bet. Amount is in satoshis, target in [1, 989900].
func (c *Client) CreateBet(ctx context.Context, attrs models.BetAttrs, includeDatas bool) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "create_bet", createBetParams{Attrs: attrs, IncludeDatas: includeDatas})
}

func (c *Client) ReadBet(ctx context.Context, id int64) (*models.Response, error) {
	return c.s.Do(ctx, "read_bet", byID(id))
}

func (c *Client) ListBets(ctx context.Context, opts *models.ListOptions) (*models.Response, error) {
	return c.s.Do(ctx, "list_bets", listParams(opts))
}

func (c *Client) ReadSeed(ctx context.Context, id int64) (*models.Response, error) {
	return c.s.Do(ctx, "read_seed", byID(id))
}

func (c *Client) ReadCurrentSeed(ctx context.Context, userID int64) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_current_seed", selectorParams{Selector: models.Selector{UserID: userID}})
}

func (c *Client) ListSeeds(ctx context.Context, opts *models.ListOptions) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "list_seeds", listParams(opts))
}

func (c *Client) CreateSeed(ctx context.Context, attrs models.SeedAttrs) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "create_seed", attrsParams{Attrs: attrs})
}

func (c *Client) PatchSeed(ctx context.Context, id int64, attrs models.SeedAttrs) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "patch_seed", patch(id, attrs))
}

func (c *Client) ReadDepositAddress(ctx context.Context) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_deposit_address", nil)
}

func (c *Client) ReadDeposit(ctx context.Context, id int64) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_deposit", byID(id))
}

func (c *Client) ListDeposits(ctx context.Context, opts *models.ListOptions) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "list_deposits", listParams(opts))
}

func (c *Client) ReadWithdrawingConfig(ctx context.Context) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_withdrawing_config", nil)
}

func (c *Client) ReadWithdrawal(ctx context.Context, id int64) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_withdrawal", byID(id))
}

func (c *Client) ListWithdrawals(ctx context.Context, opts *models.ListOptions) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "list_withdrawals", listParams(opts))
}

func (c *Client) ReadWithdrawalConfig(ctx context.Context) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_withdrawal_config", nil)
}

func (c *Client) CreateWithdrawal(ctx context.Context, attrs models.WithdrawalAttrs) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "create_withdrawal", attrsParams{Attrs: attrs})
}

func (c *Client) PatchWithdrawal(ctx context.Context, id int64, attrs models.StatusAttrs) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "patch_withdrawal", patch(id, attrs))
}

func (c *Client) CancelWithdrawal(ctx context.Context, id int64) (*models.Response, error) {
	return c.PatchWithdrawal(ctx, id, models.StatusAttrs{Status: models.StatusCanceled})
}

func (c *Client) ReadInvestment(ctx context.Context, id int64) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "read_investment", byID(id))
}

// ListInvestments lists the user's investments. status "open" limits the
// list to open ones; empty lists all.
func (c *Client) ListInvestments(ctx context.Context, status string) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "list_investments", statusParams{Status: status})
}

func (c *Client) CreateInvestment(ctx context.Context, attrs models.InvestmentAttrs) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "create_investment", attrsParams{Attrs: attrs})
}

func (c *Client) PatchInvestment(ctx context.Context, id int64, attrs models.StatusAttrs) (*models.Response, error) {
	return c.s.DoAuthenticated(ctx, "patch_investment", patch(id, attrs))
}

func (c *Client) Ping(ctx context.Context) (*models.Response, error) {
	return c.s.Do(ctx, "ping", nil)
}

// Invoke sends any method by name. Used by the CLI for one-off calls.
func (c *Client) Invoke(ctx context.Context, method string, params any, authenticated bool) (*models.Response, error) {
	if authenticated {
		return c.s.DoAuthenticated(ctx, method, params)
	}
	return c.s.Do(ctx, method, params)
}
