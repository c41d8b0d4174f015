// Package okx provides the OKX V5 REST adapter for perpetual swaps
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"trading_agent/internal/config"
	"trading_agent/internal/core"
	apperrors "trading_agent/pkg/errors"
	agenthttp "trading_agent/pkg/http"

	"github.com/shopspring/decimal"
)

const (
	defaultOKXURL = "https://www.okx.com"
	defaultOKXWS  = "wss://ws.okx.com:8443/ws/v5/public"

	instTypeSwap = "SWAP"
	quoteCcy     = "USDT"
)

// signer signs OKX requests with the HMAC-SHA256 scheme
type signer struct {
	apiKey     string
	secretKey  string
	passphrase string
	sandbox    bool
}

// SignRequest adds authentication headers to the request
func (s *signer) SignRequest(req *http.Request, body []byte) error {
	// Timestamp: ISO 8601, e.g. 2020-12-08T09:08:57.715Z
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	method := req.Method
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	// message = timestamp + method + requestPath + body
	message := timestamp + method + path + string(body)

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(message))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("OK-ACCESS-KEY", s.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", s.passphrase)
	req.Header.Set("Content-Type", "application/json")
	if s.sandbox {
		req.Header.Set("x-simulated-trading", "1")
	}

	return nil
}

// Client implements core.IExchange for OKX
type Client struct {
	http   *agenthttp.Client
	wsURL  string
	logger core.ILogger
}

// NewClient creates a new OKX exchange client
func NewClient(cfg *config.ExchangeConfig, logger core.ILogger) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
		return nil, apperrors.ErrMissingCredentials
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOKXURL
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = defaultOKXWS
	}

	sgn := &signer{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		passphrase: cfg.Passphrase,
		sandbox:    cfg.Sandbox,
	}

	return &Client{
		http:   agenthttp.NewClient(baseURL, 30*time.Second, sgn),
		wsURL:  wsURL,
		logger: logger.WithField("component", "okx"),
	}, nil
}

// envelope is the common OKX response wrapper
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// parseError maps OKX error codes (strings) to sentinel errors
// https://www.okx.com/docs-v5/en/#error-code-details
func parseError(code, msg string) error {
	switch code {
	case "0":
		return nil
	case "50004", "50011", "50027", "51000", "51121":
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrInvalidOrderParameter, msg, code)
	case "50005", "50013", "50113":
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrAuthenticationFailed, msg, code)
	case "50014", "50061":
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrRateLimitExceeded, msg, code)
	case "51008", "51010", "51119":
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrInsufficientFunds, msg, code)
	case "51401", "51402", "51410":
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrOrderNotFound, msg, code)
	case "51020":
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrOrderRejected, msg, code)
	case "50001", "50026":
		return fmt.Errorf("%w: %s (%s)", apperrors.ErrSystemOverload, msg, code)
	}

	return fmt.Errorf("okx error: %s (%s)", msg, code)
}

// call issues the request and unwraps the OKX envelope
func (c *Client) call(ctx context.Context, method, path string, params map[string]string, body interface{}) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	switch method {
	case http.MethodGet:
		raw, err = c.http.Get(ctx, path, params)
	case http.MethodPost:
		raw, err = c.http.Post(ctx, path, body)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("okx response decode failed: %w", err)
	}
	if env.Code != "0" {
		return nil, parseError(env.Code, env.Msg)
	}

	return env.Data, nil
}

// GetInstruments fetches the full SWAP instrument table
func (c *Client) GetInstruments(ctx context.Context) ([]core.Instrument, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v5/public/instruments", map[string]string{
		"instType": instTypeSwap,
	}, nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		InstID string `json:"instId"`
		CtVal  string `json:"ctVal"`
		LotSz  string `json:"lotSz"`
		MinSz  string `json:"minSz"`
		TickSz string `json:"tickSz"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("okx instruments decode failed: %w", err)
	}

	instruments := make([]core.Instrument, 0, len(rows))
	for _, row := range rows {
		ctVal, _ := decimal.NewFromString(row.CtVal)
		lotSz, _ := decimal.NewFromString(row.LotSz)
		minSz, _ := decimal.NewFromString(row.MinSz)
		tickSz, _ := decimal.NewFromString(row.TickSz)

		instruments = append(instruments, core.Instrument{
			InstID:        row.InstID,
			ContractValue: ctVal,
			LotSize:       lotSz,
			MinSize:       minSz,
			TickSize:      tickSz,
		})
	}

	return instruments, nil
}

// GetTickers returns last traded prices for the given instruments
func (c *Client) GetTickers(ctx context.Context, instIDs []string) (map[string]decimal.Decimal, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v5/market/tickers", map[string]string{
		"instType": instTypeSwap,
	}, nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("okx tickers decode failed: %w", err)
	}

	wanted := make(map[string]bool, len(instIDs))
	for _, id := range instIDs {
		wanted[id] = true
	}

	prices := make(map[string]decimal.Decimal, len(instIDs))
	for _, row := range rows {
		if len(wanted) > 0 && !wanted[row.InstID] {
			continue
		}
		price, err := decimal.NewFromString(row.Last)
		if err != nil || !price.IsPositive() {
			continue
		}
		prices[row.InstID] = price
	}

	return prices, nil
}

// GetBalance returns the USDT account snapshot
func (c *Client) GetBalance(ctx context.Context) (core.Account, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v5/account/balance", map[string]string{
		"ccy": quoteCcy,
	}, nil)
	if err != nil {
		return core.Account{}, err
	}

	var rows []struct {
		TotalEq string `json:"totalEq"`
		Details []struct {
			Ccy      string `json:"ccy"`
			Eq       string `json:"eq"`
			AvailEq  string `json:"availEq"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return core.Account{}, fmt.Errorf("okx balance decode failed: %w", err)
	}
	if len(rows) == 0 {
		return core.Account{}, fmt.Errorf("okx error: no account data")
	}

	row := rows[0]
	var avail, total decimal.Decimal
	for _, detail := range row.Details {
		if detail.Ccy == quoteCcy {
			avail, _ = decimal.NewFromString(detail.AvailEq)
			if avail.IsZero() {
				avail, _ = decimal.NewFromString(detail.AvailBal)
			}
			total, _ = decimal.NewFromString(detail.Eq)
			break
		}
	}

	if total.IsZero() {
		total, _ = decimal.NewFromString(row.TotalEq)
		avail = total
	}

	return core.Account{
		TotalEquity:      total,
		AvailableBalance: avail,
	}, nil
}

// GetPositions lists all open SWAP positions
func (c *Client) GetPositions(ctx context.Context) ([]core.Position, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v5/account/positions", map[string]string{
		"instType": instTypeSwap,
	}, nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		MarkPx  string `json:"markPx"`
		Upl     string `json:"upl"`
		Lever   string `json:"lever"`
		MgnMode string `json:"mgnMode"`
		LiqPx   string `json:"liqPx"`
		NotlUsd string `json:"notionalUsd"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("okx positions decode failed: %w", err)
	}

	positions := make([]core.Position, 0, len(rows))
	for _, row := range rows {
		pos, _ := decimal.NewFromString(row.Pos)
		if pos.IsZero() {
			continue
		}

		entry, _ := decimal.NewFromString(row.AvgPx)
		mark, _ := decimal.NewFromString(row.MarkPx)
		upl, _ := decimal.NewFromString(row.Upl)
		lever, _ := strconv.Atoi(row.Lever)
		liq, _ := decimal.NewFromString(row.LiqPx)
		notional, _ := decimal.NewFromString(row.NotlUsd)

		positions = append(positions, core.Position{
			InstID:           row.InstID,
			Side:             sideFrom(row.PosSide, pos),
			Contracts:        pos.Abs(),
			EntryPrice:       entry,
			MarkPrice:        mark,
			Leverage:         lever,
			MarginMode:       row.MgnMode,
			UnrealizedPnl:    upl,
			NotionalValue:    notional,
			LiquidationPrice: liq,
		})
	}

	return positions, nil
}

// sideFrom normalizes direction from either a posSide string or the pos sign.
// Under one-way (net) mode, posSide is "net" and a positive pos means long.
func sideFrom(posSide string, pos decimal.Decimal) core.PositionSide {
	switch posSide {
	case "long":
		return core.SideLong
	case "short":
		return core.SideShort
	}
	if pos.IsNegative() {
		return core.SideShort
	}
	return core.SideLong
}

// SetLeverage configures account leverage for an instrument
func (c *Client) SetLeverage(ctx context.Context, instID string, leverage int, marginMode string, posSide string) error {
	body := map[string]interface{}{
		"instId":  instID,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": marginMode,
	}
	if posSide != "" {
		body["posSide"] = posSide
	}

	_, err := c.call(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body)
	return err
}

// SubmitOrder places a trade order
func (c *Client) SubmitOrder(ctx context.Context, req core.OrderRequest) (core.OrderAck, error) {
	body := map[string]interface{}{
		"instId":  req.InstID,
		"tdMode":  req.TdMode,
		"side":    req.Side,
		"ordType": req.OrdType,
		"sz":      req.Size,
	}
	if req.TgtCcy != "" {
		body["tgtCcy"] = req.TgtCcy
	}
	if req.PosSide != "" {
		body["posSide"] = req.PosSide
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	data, err := c.call(ctx, http.MethodPost, "/api/v5/trade/order", nil, body)
	if err != nil {
		return core.OrderAck{}, err
	}

	var rows []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return core.OrderAck{}, fmt.Errorf("okx order decode failed: %w", err)
	}
	if len(rows) == 0 {
		return core.OrderAck{}, fmt.Errorf("okx error: no order data returned")
	}

	row := rows[0]
	if row.SCode != "0" {
		return core.OrderAck{}, parseError(row.SCode, row.SMsg)
	}

	return core.OrderAck{
		OrderID:       row.OrdID,
		ClientOrderID: row.ClOrdID,
	}, nil
}

// SubmitAlgo places a conditional TP/SL order
func (c *Client) SubmitAlgo(ctx context.Context, req core.AlgoOrderRequest) error {
	body := map[string]interface{}{
		"instId":  req.InstID,
		"tdMode":  req.TdMode,
		"side":    req.Side,
		"ordType": "conditional",
		"sz":      req.Size,
	}
	if req.PosSide != "" {
		body["posSide"] = req.PosSide
	}
	if req.TpTriggerPx != "" {
		body["tpTriggerPx"] = req.TpTriggerPx
		body["tpOrdPx"] = req.TpOrdPx
	}
	if req.SlTriggerPx != "" {
		body["slTriggerPx"] = req.SlTriggerPx
		body["slOrdPx"] = req.SlOrdPx
	}

	data, err := c.call(ctx, http.MethodPost, "/api/v5/trade/order-algo", nil, body)
	if err != nil {
		return err
	}

	var rows []struct {
		AlgoID string `json:"algoId"`
		SCode  string `json:"sCode"`
		SMsg   string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("okx algo order decode failed: %w", err)
	}
	if len(rows) > 0 && rows[0].SCode != "0" {
		return parseError(rows[0].SCode, rows[0].SMsg)
	}

	return nil
}

// GetPositionsHistory returns recently closed positions, newest first
func (c *Client) GetPositionsHistory(ctx context.Context, limit int) ([]core.ClosedPnL, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	data, err := c.call(ctx, http.MethodGet, "/api/v5/account/positions-history", map[string]string{
		"instType": instTypeSwap,
		"limit":    strconv.Itoa(limit),
	}, nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		InstID      string `json:"instId"`
		PosSide     string `json:"posSide"`
		Pos         string `json:"pos"`
		RealizedPnl string `json:"realizedPnl"`
		Pnl         string `json:"pnl"`
		OpenAvgPx   string `json:"openAvgPx"`
		CloseAvgPx  string `json:"closeAvgPx"`
		UTime       string `json:"uTime"`
		Direction   string `json:"direction"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("okx positions history decode failed: %w", err)
	}

	records := make([]core.ClosedPnL, 0, len(rows))
	for _, row := range rows {
		pnl, err := decimal.NewFromString(row.RealizedPnl)
		if err != nil || pnl.IsZero() {
			if alt, altErr := decimal.NewFromString(row.Pnl); altErr == nil && !alt.IsZero() {
				pnl = alt
			}
		}
		openPx, _ := decimal.NewFromString(row.OpenAvgPx)
		closePx, _ := decimal.NewFromString(row.CloseAvgPx)
		uTime, _ := strconv.ParseInt(row.UTime, 10, 64)

		side := row.PosSide
		if side == "" || side == "net" {
			side = row.Direction
		}
		pos, _ := decimal.NewFromString(row.Pos)

		records = append(records, core.ClosedPnL{
			InstID:      row.InstID,
			Side:        sideFrom(side, pos),
			RealizedPnl: pnl,
			OpenAvgPx:   openPx,
			CloseAvgPx:  closePx,
			CloseTime:   time.UnixMilli(uTime),
		})
	}

	return records, nil
}

// WSURL returns the public websocket endpoint for this client
func (c *Client) WSURL() string {
	return c.wsURL
}

// InstIDCoin extracts the short coin name from an instrument id
func InstIDCoin(instID string) string {
	if idx := strings.Index(instID, "-"); idx > 0 {
		return instID[:idx]
	}
	return instID
}
