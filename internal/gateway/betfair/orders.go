package betfair

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"betexec/internal/gateway/exchange"
	"betexec/internal/logger"
	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

const statusSuccess = "SUCCESS"

type limitOrder struct {
	Size            json.Number `json:"size"`
	Price           json.Number `json:"price"`
	PersistenceType string      `json:"persistenceType"`
}

type placeInstruction struct {
	SelectionID int64      `json:"selectionId"`
	Side        string     `json:"side"`
	OrderType   string     `json:"orderType"`
	LimitOrder  limitOrder `json:"limitOrder"`
}

type placeOrdersRequest struct {
	MarketID     string             `json:"marketId"`
	Instructions []placeInstruction `json:"instructions"`
	CustomerRef  string             `json:"customerRef,omitempty"`
}

type instructionReport struct {
	Status              string          `json:"status"`
	ErrorCode           string          `json:"errorCode"`
	OrderStatus         string          `json:"orderStatus"`
	BetID               string          `json:"betId"`
	SizeMatched         decimal.Decimal `json:"sizeMatched"`
	AveragePriceMatched decimal.Decimal `json:"averagePriceMatched"`
	SizeCancelled       decimal.Decimal `json:"sizeCancelled"`
}

type executionReport struct {
	Status             string              `json:"status"`
	ErrorCode          string              `json:"errorCode"`
	MarketID           string              `json:"marketId"`
	InstructionReports []instructionReport `json:"instructionReports"`
}

// replaceOrders 的报告里嵌套了撤单与新单两部分
type replaceInstructionReport struct {
	Status                  string            `json:"status"`
	ErrorCode               string            `json:"errorCode"`
	CancelInstructionReport instructionReport `json:"cancelInstructionReport"`
	PlaceInstructionReport  instructionReport `json:"placeInstructionReport"`
}

type replaceExecutionReport struct {
	Status             string                     `json:"status"`
	ErrorCode          string                     `json:"errorCode"`
	InstructionReports []replaceInstructionReport `json:"instructionReports"`
}

func num(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// customerRef 最长 32 字符
func customerRef(corr string) string {
	if len(corr) > 32 {
		return corr[:32]
	}
	return corr
}

func reportStatus(r instructionReport) types.OrderStatus {
	if r.OrderStatus == "" {
		return types.StatusPending
	}
	return exchange.ParseOrderStatus(r.OrderStatus)
}

// PlaceOrder 以 LIMIT/LAPSE 下单；执行报告不是 SUCCESS 时返回 GatewayFailure。
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (exchange.OrderResult, error) {
	selection, err := strconv.ParseInt(strings.TrimSpace(req.SelectionID), 10, 64)
	if err != nil {
		return exchange.OrderResult{}, types.Malformed("place order", fmt.Errorf("selection id %q: %w", req.SelectionID, err))
	}
	payload := placeOrdersRequest{
		MarketID: req.MarketID,
		Instructions: []placeInstruction{{
			SelectionID: selection,
			Side:        req.Side.Exchange(),
			OrderType:   "LIMIT",
			LimitOrder: limitOrder{
				Size:            num(req.Stake),
				Price:           num(req.Odds),
				PersistenceType: "LAPSE",
			},
		}},
		CustomerRef: customerRef(req.CorrelationID),
	}
	logger.Infof("betfair: placing %s", req)
	var rep executionReport
	if err := c.call(ctx, c.apiURL, "placeOrders", payload, &rep); err != nil {
		return exchange.OrderResult{}, types.GatewayFailed("place order", err)
	}
	if len(rep.InstructionReports) == 0 {
		return exchange.OrderResult{}, types.GatewayFailed("place order", fmt.Errorf("empty execution report (status=%s %s)", rep.Status, rep.ErrorCode))
	}
	ir := rep.InstructionReports[0]
	if rep.Status != statusSuccess || ir.Status != statusSuccess || ir.BetID == "" {
		code := ir.ErrorCode
		if code == "" {
			code = rep.ErrorCode
		}
		return exchange.OrderResult{Message: code}, types.GatewayFailed("place order", fmt.Errorf("rejected by exchange: %s", code))
	}
	return exchange.OrderResult{
		OrderID:         ir.BetID,
		Status:          reportStatus(ir),
		MatchedSize:     ir.SizeMatched,
		AvgPriceMatched: ir.AveragePriceMatched,
		Message:         ir.Status,
	}, nil
}

type cancelInstruction struct {
	BetID         string       `json:"betId"`
	SizeReduction *json.Number `json:"sizeReduction,omitempty"`
}

type cancelOrdersRequest struct {
	MarketID     string              `json:"marketId"`
	Instructions []cancelInstruction `json:"instructions"`
}

// CancelOrder 撤销整单。
func (c *Client) CancelOrder(ctx context.Context, marketID, orderID string) (exchange.CancelResult, error) {
	return c.cancel(ctx, marketID, cancelInstruction{BetID: orderID})
}

func (c *Client) cancel(ctx context.Context, marketID string, ins cancelInstruction) (exchange.CancelResult, error) {
	payload := cancelOrdersRequest{MarketID: marketID, Instructions: []cancelInstruction{ins}}
	var rep executionReport
	if err := c.call(ctx, c.apiURL, "cancelOrders", payload, &rep); err != nil {
		return exchange.CancelResult{OrderID: ins.BetID}, types.GatewayFailed("cancel order", err)
	}
	res := exchange.CancelResult{OrderID: ins.BetID, Success: rep.Status == statusSuccess, Message: rep.Status}
	if len(rep.InstructionReports) > 0 {
		res.SizeCancelled = rep.InstructionReports[0].SizeCancelled
		if rep.InstructionReports[0].ErrorCode != "" {
			res.Message = rep.InstructionReports[0].ErrorCode
		}
	}
	if !res.Success {
		return res, types.GatewayFailed("cancel order", fmt.Errorf("cancel %s rejected: %s %s", ins.BetID, rep.Status, rep.ErrorCode))
	}
	return res, nil
}

type replaceInstruction struct {
	BetID    string      `json:"betId"`
	NewPrice json.Number `json:"newPrice"`
}

type replaceOrdersRequest struct {
	MarketID     string               `json:"marketId"`
	Instructions []replaceInstruction `json:"instructions"`
}

// UpdateOrder: 改价走 replaceOrders（交易所会生成新的 betId）；
// 减量走 cancelOrders 的 sizeReduction。两者都有时先减量再改价。Betfair 不支持加量。
func (c *Client) UpdateOrder(ctx context.Context, marketID, orderID string, newStake, newOdds *decimal.Decimal) (exchange.OrderResult, error) {
	if newOdds == nil && newStake == nil {
		return exchange.OrderResult{}, types.Malformed("update order", fmt.Errorf("nothing to update"))
	}
	var reduced exchange.OrderResult
	if newStake != nil {
		res, err := c.reduce(ctx, marketID, orderID, *newStake)
		if err != nil {
			return exchange.OrderResult{}, err
		}
		if newOdds == nil {
			return res, nil
		}
		reduced = res
	}
	res, err := c.replace(ctx, marketID, orderID, *newOdds)
	if err != nil && newStake != nil {
		// 减量已生效，改价失败；返回原 betId 让调用方按减量后的状态对账
		logger.Warnf("betfair: %s reduced but price replace failed: %v", orderID, err)
		return reduced, err
	}
	return res, err
}

func (c *Client) replace(ctx context.Context, marketID, orderID string, newOdds decimal.Decimal) (exchange.OrderResult, error) {
	payload := replaceOrdersRequest{
		MarketID:     marketID,
		Instructions: []replaceInstruction{{BetID: orderID, NewPrice: num(newOdds)}},
	}
	var rep replaceExecutionReport
	if err := c.call(ctx, c.apiURL, "replaceOrders", payload, &rep); err != nil {
		return exchange.OrderResult{}, types.GatewayFailed("update order", err)
	}
	if rep.Status != statusSuccess || len(rep.InstructionReports) == 0 {
		return exchange.OrderResult{Message: rep.ErrorCode}, types.GatewayFailed("update order", fmt.Errorf("replace %s rejected: %s %s", orderID, rep.Status, rep.ErrorCode))
	}
	placed := rep.InstructionReports[0].PlaceInstructionReport
	id := placed.BetID
	if id == "" {
		id = orderID
	}
	return exchange.OrderResult{
		OrderID:         id,
		Status:          reportStatus(placed),
		MatchedSize:     placed.SizeMatched,
		AvgPriceMatched: placed.AveragePriceMatched,
		Message:         rep.Status,
	}, nil
}

// reduce 需要知道当前剩余量来算出 sizeReduction。
func (c *Client) reduce(ctx context.Context, marketID, orderID string, newStake decimal.Decimal) (exchange.OrderResult, error) {
	orders, err := c.ListCurrentOrders(ctx, marketID)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	cur, ok := exchange.FindOrder(orders, orderID)
	if !ok {
		return exchange.OrderResult{}, types.Inconsistent("update order", "order "+orderID+" not listed by exchange")
	}
	if !newStake.LessThan(cur.Size) {
		return exchange.OrderResult{}, types.Rejected("update order", "betfair only supports reducing stake")
	}
	reduction := cur.Size.Sub(newStake)
	if reduction.GreaterThan(cur.SizeRemaining) {
		return exchange.OrderResult{}, types.Rejected("update order", "reduction exceeds unmatched size")
	}
	n := num(reduction)
	if _, err := c.cancel(ctx, marketID, cancelInstruction{BetID: orderID, SizeReduction: &n}); err != nil {
		return exchange.OrderResult{}, err
	}
	return exchange.OrderResult{
		OrderID:         orderID,
		Status:          cur.Status,
		MatchedSize:     cur.SizeMatched,
		AvgPriceMatched: cur.AvgPriceMatched,
		Message:         statusSuccess,
	}, nil
}

type listCurrentOrdersRequest struct {
	MarketIDs []string `json:"marketIds"`
}

type priceSize struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type currentOrderSummary struct {
	BetID               string          `json:"betId"`
	MarketID            string          `json:"marketId"`
	SelectionID         int64           `json:"selectionId"`
	Side                string          `json:"side"`
	Status              string          `json:"status"`
	PriceSize           priceSize       `json:"priceSize"`
	SizeRemaining       decimal.Decimal `json:"sizeRemaining"`
	SizeMatched         decimal.Decimal `json:"sizeMatched"`
	AveragePriceMatched decimal.Decimal `json:"averagePriceMatched"`
}

type currentOrderSummaryReport struct {
	CurrentOrders []currentOrderSummary `json:"currentOrders"`
	MoreAvailable bool                  `json:"moreAvailable"`
}

// ListCurrentOrders 返回某个市场的当前挂单。调用失败返回错误而不是空列表，
// 否则调用方会把所有订单误判为已结束。
func (c *Client) ListCurrentOrders(ctx context.Context, marketID string) ([]exchange.CurrentOrder, error) {
	var rep currentOrderSummaryReport
	if err := c.call(ctx, c.apiURL, "listCurrentOrders", listCurrentOrdersRequest{MarketIDs: []string{marketID}}, &rep); err != nil {
		return nil, types.GatewayFailed("list current orders", err)
	}
	if rep.MoreAvailable {
		logger.Warnf("betfair: listCurrentOrders truncated for market %s", marketID)
	}
	out := make([]exchange.CurrentOrder, 0, len(rep.CurrentOrders))
	for _, o := range rep.CurrentOrders {
		side, err := types.ParseSide(o.Side)
		if err != nil {
			logger.Warnf("betfair: skip order %s with side %q", o.BetID, o.Side)
			continue
		}
		out = append(out, exchange.CurrentOrder{
			OrderID:         o.BetID,
			MarketID:        o.MarketID,
			SelectionID:     strconv.FormatInt(o.SelectionID, 10),
			Side:            side,
			Status:          exchange.ParseOrderStatus(o.Status),
			Price:           o.PriceSize.Price,
			Size:            o.PriceSize.Size,
			SizeRemaining:   o.SizeRemaining,
			SizeMatched:     o.SizeMatched,
			AvgPriceMatched: o.AveragePriceMatched,
		})
	}
	return out, nil
}

type accountFundsResponse struct {
	AvailableToBetBalance decimal.Decimal `json:"availableToBetBalance"`
	Exposure              decimal.Decimal `json:"exposure"`
	RetainedCommission    decimal.Decimal `json:"retainedCommission"`
	ExposureLimit         decimal.Decimal `json:"exposureLimit"`
	Wallet                string          `json:"wallet"`
}

// GetAccountBalance 调用账户 API 的 getAccountFunds。Betfair 的 exposure 为负数。
func (c *Client) GetAccountBalance(ctx context.Context) (exchange.AccountBalance, error) {
	var rep accountFundsResponse
	if err := c.call(ctx, c.accountURL, "getAccountFunds", struct{}{}, &rep); err != nil {
		return exchange.AccountBalance{}, types.GatewayFailed("get account funds", err)
	}
	exposure := rep.Exposure.Abs()
	return exchange.AccountBalance{
		AvailableToBet: rep.AvailableToBetBalance,
		Exposure:       exposure,
		Balance:        rep.AvailableToBetBalance.Add(exposure),
		CurrencyCode:   "EUR",
	}, nil
}

var _ exchange.Gateway = (*Client)(nil)
