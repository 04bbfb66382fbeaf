package agentapi

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/modules/rewards"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
)

func (h *HttpHandler) Ping(ctx *fiber.Ctx) (err error) {
	return errors.WithStack(ctx.JSON(fiber.Map{"status": "alive"}))
}

type paymentInfoResponse struct {
	TreasuryAddress    string `json:"treasury_address"`
	PricePer100Views   string `json:"price_per_100_views"`
	MinimumFunding     string `json:"minimum_funding"`
	PlatformFeePercent string `json:"platform_fee_percent"`
	P2PFeePercent      string `json:"p2p_fee_percent"`
	RewardPerView      string `json:"reward_per_view"`
}

func (h *HttpHandler) GetPaymentInfo(ctx *fiber.Ctx) (err error) {
	return errors.WithStack(ctx.JSON(paymentInfoResponse{
		TreasuryAddress:    h.TreasuryAddress,
		PricePer100Views:   h.Economy.PricePer100Views.String(),
		MinimumFunding:     h.Economy.MinimumFundingAmount().String(),
		PlatformFeePercent: h.Economy.PlatformFeePercent.String(),
		P2PFeePercent:      h.Economy.P2PFeePercent.String(),
		RewardPerView:      rewards.RewardAmount(h.Economy).String(),
	}))
}

type dashboardStatsResponse struct {
	ActiveWorkers         int    `json:"active_workers"`
	TotalWebsites         int    `json:"total_websites"`
	ViewsCompletedSession int64  `json:"views_completed_session"`
	BlockchainHeight      int64  `json:"blockchain_height"`
	Status                string `json:"status"`
	OpenP2POrders         int    `json:"open_p2p_orders"`
	TotalStakers          int    `json:"total_stakers"`
}

const (
	statusOnline     = "Online"
	statusConnecting = "Connecting..."
)

func (h *HttpHandler) GetDashboardStats(ctx *fiber.Ctx) (err error) {
	websites, views := h.Rewards.Counts()
	openOrders, _ := h.Book.OpenSummary()
	resp := dashboardStatsResponse{
		ActiveWorkers:         h.Rewards.ActiveWorkers(),
		TotalWebsites:         websites,
		ViewsCompletedSession: views,
		BlockchainHeight:      -1,
		Status:                statusConnecting,
		OpenP2POrders:         openOrders,
		TotalStakers:          h.Ledger.StakerCount(),
	}
	if h.Chain.Available() {
		resp.Status = statusOnline
		height, err := h.Chain.GetHeight(ctx.UserContext())
		if err != nil {
			logger.DebugContext(ctx.UserContext(), "Dashboard could not read chain height", slogx.Error(err))
		} else {
			resp.BlockchainHeight = height
		}
	}
	return errors.WithStack(ctx.JSON(resp))
}
