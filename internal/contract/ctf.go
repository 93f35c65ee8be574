package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Polygon mainnet deployments.
const (
	DefaultCTFAddress      = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	DefaultUSDCAddress     = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	DefaultExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

const usdcDecimals = 1e6

const ctfABIJSON = `[
  {"name":"splitPosition","type":"function","inputs":[
    {"name":"collateralToken","type":"address"},
    {"name":"parentCollectionId","type":"bytes32"},
    {"name":"conditionId","type":"bytes32"},
    {"name":"partition","type":"uint256[]"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"mergePositions","type":"function","inputs":[
    {"name":"collateralToken","type":"address"},
    {"name":"parentCollectionId","type":"bytes32"},
    {"name":"conditionId","type":"bytes32"},
    {"name":"partition","type":"uint256[]"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},
    {"name":"id","type":"uint256"}],
    "outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},
    {"name":"spender","type":"address"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","inputs":[
    {"name":"spender","type":"address"},
    {"name":"amount","type":"uint256"}],
    "outputs":[{"name":"","type":"bool"}]}
]`

// CTFClient sends conditional-token transactions over JSON-RPC. All
// transactions go through one mutex so nonces are assigned in order.
type CTFClient struct {
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	ctf      common.Address
	usdc     common.Address
	exchange common.Address
	ctfABI   abi.ABI
	erc20ABI abi.ABI
	logger   *slog.Logger

	mu sync.Mutex // serializes nonce assignment
}

// Addresses overrides the default contract deployment addresses.
type Addresses struct {
	CTF      string
	USDC     string
	Exchange string
}

// NewCTFClient dials the RPC endpoint and prepares a transacting client.
func NewCTFClient(rpcURL, privateKeyHex string, chainID int64, addrs Addresses, logger *slog.Logger) (*CTFClient, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	ctfABI, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ctf abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	if addrs.CTF == "" {
		addrs.CTF = DefaultCTFAddress
	}
	if addrs.USDC == "" {
		addrs.USDC = DefaultUSDCAddress
	}
	if addrs.Exchange == "" {
		addrs.Exchange = DefaultExchangeAddress
	}

	return &CTFClient{
		eth:      eth,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(chainID),
		ctf:      common.HexToAddress(addrs.CTF),
		usdc:     common.HexToAddress(addrs.USDC),
		exchange: common.HexToAddress(addrs.Exchange),
		ctfABI:   ctfABI,
		erc20ABI: erc20ABI,
		logger:   logger.With("component", "contract"),
	}, nil
}

func (c *CTFClient) Enabled() bool { return true }

// MintTokens splits USDC collateral into a full outcome set.
func (c *CTFClient) MintTokens(ctx context.Context, conditionID string, amount float64, outcomeCount int) (*TxResult, error) {
	return c.splitOrMerge(ctx, "splitPosition", conditionID, amount, outcomeCount)
}

// MergeTokens merges a full outcome set back into USDC.
func (c *CTFClient) MergeTokens(ctx context.Context, conditionID string, amount float64, outcomeCount int) (*TxResult, error) {
	return c.splitOrMerge(ctx, "mergePositions", conditionID, amount, outcomeCount)
}

func (c *CTFClient) splitOrMerge(ctx context.Context, method, conditionID string, amount float64, outcomeCount int) (*TxResult, error) {
	if outcomeCount < 2 {
		return nil, fmt.Errorf("%s: need at least 2 outcomes, got %d", method, outcomeCount)
	}
	scaled := usdToUnits(amount)

	data, err := c.ctfABI.Pack(method,
		c.usdc,
		[32]byte{}, // root collection
		common.HexToHash(conditionID),
		Partition(outcomeCount),
		scaled,
	)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	hash, err := c.sendTx(ctx, c.ctf, data)
	if err != nil {
		return &TxResult{Success: false, Error: err.Error()}, err
	}
	c.logger.Info("transaction sent",
		"method", method, "condition", conditionID, "amount", amount, "tx", hash)
	return &TxResult{Success: true, TxHash: hash}, nil
}

// EnsureUsdcApproval checks the exchange's allowance and approves the exact
// shortfall-covering amount when it is too low.
func (c *CTFClient) EnsureUsdcApproval(ctx context.Context, amount float64) error {
	needed := usdToUnits(amount)

	out, err := c.call(ctx, c.usdc, c.erc20ABI, "allowance", c.address, c.exchange)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	current := out[0].(*big.Int)
	if current.Cmp(needed) >= 0 {
		return nil
	}

	data, err := c.erc20ABI.Pack("approve", c.exchange, needed)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	hash, err := c.sendTx(ctx, c.usdc, data)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	c.logger.Info("usdc approval sent", "amount", amount, "tx", hash)
	return nil
}

// GetUsdcBalance returns the wallet's USDC balance in USD.
func (c *CTFClient) GetUsdcBalance(ctx context.Context) (float64, error) {
	out, err := c.call(ctx, c.usdc, c.erc20ABI, "balanceOf", c.address)
	if err != nil {
		return 0, fmt.Errorf("usdc balance: %w", err)
	}
	return unitsToUSD(out[0].(*big.Int)), nil
}

// GetTokenBalance returns the share balance held for a position ID.
func (c *CTFClient) GetTokenBalance(ctx context.Context, positionID *big.Int) (float64, error) {
	out, err := c.call(ctx, c.ctf, c.ctfABI, "balanceOf", c.address, positionID)
	if err != nil {
		return 0, fmt.Errorf("token balance: %w", err)
	}
	return unitsToUSD(out[0].(*big.Int)), nil
}

// call performs a read-only contract call.
func (c *CTFClient) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereumCallMsg(c.address, to, data), nil)
	if err != nil {
		return nil, err
	}
	return parsed.Unpack(method, raw)
}

// sendTx signs and broadcasts a legacy transaction to `to`.
func (c *CTFClient) sendTx(ctx context.Context, to common.Address, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereumCallMsg(c.address, to, data))
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func ethereumCallMsg(from, to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Data: data}
}

func usdToUnits(amount float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(usdcDecimals))
	units, _ := f.Int(nil)
	return units
}

func unitsToUSD(units *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(units), big.NewFloat(usdcDecimals)).Float64()
	return f
}
