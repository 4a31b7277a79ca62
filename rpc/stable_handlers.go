package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/pratokko/stable-coin/crypto"
)

type depositParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type mintParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type depositAndMintParams struct {
	Caller           string `json:"caller"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	MintAmount       string `json:"mintAmount"`
}

type redeemForDscParams struct {
	Caller           string `json:"caller"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	BurnAmount       string `json:"burnAmount"`
}

type liquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Asset       string `json:"asset"`
	User        string `json:"user"`
	DebtToCover string `json:"debtToCover"`
}

type accountParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

type valueParams struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type pauseParams struct {
	Operation string `json:"operation"`
}

type pausedResult struct {
	Paused []string `json:"paused"`
}

type historyParams struct {
	Actor string `json:"actor,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type txResult struct {
	Status string `json:"status"`
}

type healthFactorResult struct {
	Address      string `json:"address"`
	HealthFactor string `json:"healthFactor"`
}

type accountInformationResult struct {
	Address         string `json:"address"`
	TotalDebt       string `json:"totalDebt"`
	CollateralValue string `json:"collateralValueUsd"`
}

type positionResult struct {
	Address    string            `json:"address"`
	Collateral map[string]string `json:"collateral"`
	Debt       string            `json:"debt"`
}

type collateralBalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type approvedAssetResult struct {
	Symbol string `json:"symbol"`
	FeedID string `json:"feedId"`
}

type usdValueResult struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usdValue"`
}

type tokenAmountResult struct {
	Asset     string `json:"asset"`
	UsdAmount string `json:"usdAmount"`
	Amount    string `json:"amount"`
}

type historyEntryResult struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Actor     string `json:"actor"`
	Asset     string `json:"asset,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Digest    string `json:"digest"`
	CreatedAt string `json:"createdAt"`
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, req *RPCRequest, field, value string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid "+field, err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func parseAmount(w http.ResponseWriter, req *RPCRequest, field, value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, field+" must be a positive integer", nil)
		return nil, false
	}
	return amount, true
}

// parseNonNegativeAmount is for conversion queries, where zero is a valid
// input with a defined zero result.
func parseNonNegativeAmount(w http.ResponseWriter, req *RPCRequest, field, value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, field+" must be a non-negative integer", nil)
		return nil, false
	}
	return amount, true
}

// apply runs a mutating engine operation, commits the staged writes on
// success and archives the applied operation.
func (s *Server) apply(w http.ResponseWriter, req *RPCRequest, actor crypto.Address, asset, amount string, fn func() error) int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	start := time.Now()
	err := fn()
	s.metrics.Observe(req.Method, time.Since(start), err)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return status
	}
	if err := s.manager.Commit(); err != nil {
		s.logger.Error("commit failed", "method", req.Method, "error", err)
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to persist state", err.Error())
		return http.StatusInternalServerError
	}
	if s.archive != nil {
		if _, err := s.archive.Append(req.Method, actor.String(), asset, amount, ""); err != nil {
			s.logger.Warn("history append failed", "method", req.Method, "error", err)
		}
	}
	s.logger.Info("operation applied", "method", req.Method, "actor", actor.String())
	writeResult(w, req.ID, txResult{Status: "ok"})
	return http.StatusOK
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, req *RPCRequest) int {
	var input depositParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	caller, ok := parseAddress(w, req, "caller", input.Caller)
	if !ok {
		return http.StatusBadRequest
	}
	amount, ok := parseAmount(w, req, "amount", input.Amount)
	if !ok {
		return http.StatusBadRequest
	}
	return s.apply(w, req, caller, input.Asset, input.Amount, func() error {
		return s.engine.DepositCollateral(caller, input.Asset, amount)
	})
}

func (s *Server) handleMintDsc(w http.ResponseWriter, req *RPCRequest) int {
	var input mintParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	caller, ok := parseAddress(w, req, "caller", input.Caller)
	if !ok {
		return http.StatusBadRequest
	}
	amount, ok := parseAmount(w, req, "amount", input.Amount)
	if !ok {
		return http.StatusBadRequest
	}
	return s.apply(w, req, caller, "", input.Amount, func() error {
		return s.engine.MintDsc(caller, amount)
	})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, req *RPCRequest) int {
	var input depositAndMintParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	caller, ok := parseAddress(w, req, "caller", input.Caller)
	if !ok {
		return http.StatusBadRequest
	}
	collateral, ok := parseAmount(w, req, "collateralAmount", input.CollateralAmount)
	if !ok {
		return http.StatusBadRequest
	}
	mint, ok := parseAmount(w, req, "mintAmount", input.MintAmount)
	if !ok {
		return http.StatusBadRequest
	}
	return s.apply(w, req, caller, input.Asset, input.CollateralAmount, func() error {
		return s.engine.DepositCollateralAndMintDsc(caller, input.Asset, collateral, mint)
	})
}

func (s *Server) handleRedeemCollateral(w http.ResponseWriter, req *RPCRequest) int {
	var input depositParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	caller, ok := parseAddress(w, req, "caller", input.Caller)
	if !ok {
		return http.StatusBadRequest
	}
	amount, ok := parseAmount(w, req, "amount", input.Amount)
	if !ok {
		return http.StatusBadRequest
	}
	return s.apply(w, req, caller, input.Asset, input.Amount, func() error {
		return s.engine.RedeemCollateral(caller, input.Asset, amount)
	})
}

func (s *Server) handleRedeemForDsc(w http.ResponseWriter, req *RPCRequest) int {
	var input redeemForDscParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	caller, ok := parseAddress(w, req, "caller", input.Caller)
	if !ok {
		return http.StatusBadRequest
	}
	collateral, ok := parseAmount(w, req, "collateralAmount", input.CollateralAmount)
	if !ok {
		return http.StatusBadRequest
	}
	burn, ok := parseAmount(w, req, "burnAmount", input.BurnAmount)
	if !ok {
		return http.StatusBadRequest
	}
	return s.apply(w, req, caller, input.Asset, input.CollateralAmount, func() error {
		return s.engine.RedeemCollateralForDsc(caller, input.Asset, collateral, burn)
	})
}

func (s *Server) handleBurnDsc(w http.ResponseWriter, req *RPCRequest) int {
	var input mintParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	caller, ok := parseAddress(w, req, "caller", input.Caller)
	if !ok {
		return http.StatusBadRequest
	}
	amount, ok := parseAmount(w, req, "amount", input.Amount)
	if !ok {
		return http.StatusBadRequest
	}
	return s.apply(w, req, caller, "", input.Amount, func() error {
		return s.engine.BurnDsc(caller, amount)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) int {
	var input liquidateParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	liquidator, ok := parseAddress(w, req, "liquidator", input.Liquidator)
	if !ok {
		return http.StatusBadRequest
	}
	user, ok := parseAddress(w, req, "user", input.User)
	if !ok {
		return http.StatusBadRequest
	}
	debtToCover, ok := parseAmount(w, req, "debtToCover", input.DebtToCover)
	if !ok {
		return http.StatusBadRequest
	}
	status := s.apply(w, req, liquidator, input.Asset, input.DebtToCover, func() error {
		err := s.engine.Liquidate(liquidator, input.Asset, user, debtToCover)
		s.metrics.RecordLiquidation(input.Asset, err)
		return err
	})
	return status
}

func (s *Server) handleGetHealthFactor(w http.ResponseWriter, req *RPCRequest) int {
	var input accountParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	addr, ok := parseAddress(w, req, "address", input.Address)
	if !ok {
		return http.StatusBadRequest
	}
	health, err := s.engine.HealthFactor(addr)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return status
	}
	writeResult(w, req.ID, healthFactorResult{Address: addr.String(), HealthFactor: health.String()})
	return http.StatusOK
}

func (s *Server) handleGetAccountInformation(w http.ResponseWriter, req *RPCRequest) int {
	var input accountParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	addr, ok := parseAddress(w, req, "address", input.Address)
	if !ok {
		return http.StatusBadRequest
	}
	debt, value, err := s.engine.AccountInformation(addr)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return status
	}
	writeResult(w, req.ID, accountInformationResult{
		Address:         addr.String(),
		TotalDebt:       debt.String(),
		CollateralValue: value.String(),
	})
	return http.StatusOK
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) int {
	var input accountParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	addr, ok := parseAddress(w, req, "address", input.Address)
	if !ok {
		return http.StatusBadRequest
	}
	position, err := s.engine.Position(addr)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return status
	}
	collateral := make(map[string]string, len(position.Collateral))
	for symbol, balance := range position.Collateral {
		collateral[symbol] = balance.String()
	}
	writeResult(w, req.ID, positionResult{
		Address:    addr.String(),
		Collateral: collateral,
		Debt:       position.Debt.String(),
	})
	return http.StatusOK
}

func (s *Server) handleGetCollateralBalance(w http.ResponseWriter, req *RPCRequest) int {
	var input accountParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	addr, ok := parseAddress(w, req, "address", input.Address)
	if !ok {
		return http.StatusBadRequest
	}
	balance, err := s.engine.CollateralBalance(addr, input.Asset)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return status
	}
	writeResult(w, req.ID, collateralBalanceResult{
		Address: addr.String(),
		Asset:   strings.ToUpper(strings.TrimSpace(input.Asset)),
		Balance: balance.String(),
	})
	return http.StatusOK
}

func (s *Server) handleGetApprovedAssets(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return http.StatusBadRequest
	}
	assets := s.engine.ApprovedAssets()
	results := make([]approvedAssetResult, 0, len(assets))
	for _, asset := range assets {
		results = append(results, approvedAssetResult{Symbol: asset.Symbol, FeedID: asset.FeedID})
	}
	writeResult(w, req.ID, results)
	return http.StatusOK
}

func (s *Server) handleGetUsdValue(w http.ResponseWriter, req *RPCRequest) int {
	var input valueParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	amount, ok := parseNonNegativeAmount(w, req, "amount", input.Amount)
	if !ok {
		return http.StatusBadRequest
	}
	value, err := s.engine.UsdValue(input.Asset, amount)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return status
	}
	writeResult(w, req.ID, usdValueResult{
		Asset:    strings.ToUpper(strings.TrimSpace(input.Asset)),
		Amount:   amount.String(),
		UsdValue: value.String(),
	})
	return http.StatusOK
}

func (s *Server) handleGetTokenAmountFromUsd(w http.ResponseWriter, req *RPCRequest) int {
	var input valueParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	usdAmount, ok := parseNonNegativeAmount(w, req, "amount", input.Amount)
	if !ok {
		return http.StatusBadRequest
	}
	amount, err := s.engine.TokenAmountFromUsd(input.Asset, usdAmount)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return status
	}
	writeResult(w, req.ID, tokenAmountResult{
		Asset:     strings.ToUpper(strings.TrimSpace(input.Asset)),
		UsdAmount: usdAmount.String(),
		Amount:    amount.String(),
	})
	return http.StatusOK
}

// normaliseOp accepts either the engine operation name or the RPC method
// form with the stable_ prefix.
func normaliseOp(op string) string {
	return strings.TrimPrefix(strings.TrimSpace(op), "stable_")
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) int {
	if s.pauses == nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "pause switch not configured", nil)
		return http.StatusNotFound
	}
	var input pauseParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	op := normaliseOp(input.Operation)
	if op == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "operation required", nil)
		return http.StatusBadRequest
	}
	s.pauses.Pause(op)
	s.metrics.SetPause(true)
	s.logger.Warn("operation paused", "operation", op)
	writeResult(w, req.ID, pausedResult{Paused: s.pauses.Paused()})
	return http.StatusOK
}

func (s *Server) handleResume(w http.ResponseWriter, req *RPCRequest) int {
	if s.pauses == nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "pause switch not configured", nil)
		return http.StatusNotFound
	}
	var input pauseParams
	if !decodeParams(w, req, &input) {
		return http.StatusBadRequest
	}
	op := normaliseOp(input.Operation)
	if op == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "operation required", nil)
		return http.StatusBadRequest
	}
	s.pauses.Resume(op)
	remaining := s.pauses.Paused()
	s.metrics.SetPause(len(remaining) > 0)
	s.logger.Info("operation resumed", "operation", op)
	writeResult(w, req.ID, pausedResult{Paused: remaining})
	return http.StatusOK
}

func (s *Server) handleListPaused(w http.ResponseWriter, req *RPCRequest) int {
	if s.pauses == nil {
		writeResult(w, req.ID, pausedResult{Paused: []string{}})
		return http.StatusOK
	}
	writeResult(w, req.ID, pausedResult{Paused: s.pauses.Paused()})
	return http.StatusOK
}

func (s *Server) handleGetHistory(w http.ResponseWriter, req *RPCRequest) int {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "history archive not configured", nil)
		return http.StatusNotFound
	}
	input := historyParams{}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &input); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
			return http.StatusBadRequest
		}
	} else if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return http.StatusBadRequest
	}
	records, err := s.archive.List(input.Actor, input.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return http.StatusInternalServerError
	}
	results := make([]historyEntryResult, 0, len(records))
	for _, record := range records {
		results = append(results, historyEntryResult{
			ID:        record.ID.String(),
			Method:    record.Method,
			Actor:     record.Actor,
			Asset:     record.Asset,
			Amount:    record.Amount,
			Digest:    record.Digest,
			CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeResult(w, req.ID, results)
	return http.StatusOK
}
