package ledger

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const exchangeABIJSON = `[
  {"inputs": [], "name": "owner", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getAllPools", "outputs": [{"internalType": "bytes32[]", "name": "", "type": "bytes32[]"}], "stateMutability": "view", "type": "function"},
  {
    "inputs": [{"internalType": "bytes32", "name": "poolId", "type": "bytes32"}],
    "name": "getPoolInfo",
    "outputs": [
      {"internalType": "address", "name": "tokenA", "type": "address"},
      {"internalType": "address", "name": "tokenB", "type": "address"},
      {"internalType": "uint256", "name": "reserveA", "type": "uint256"},
      {"internalType": "uint256", "name": "reserveB", "type": "uint256"},
      {"internalType": "uint256", "name": "totalLiquidity", "type": "uint256"},
      {"internalType": "uint256", "name": "totalBorrowedA", "type": "uint256"},
      {"internalType": "uint256", "name": "totalBorrowedB", "type": "uint256"},
      {"internalType": "uint256", "name": "interestRateA", "type": "uint256"},
      {"internalType": "uint256", "name": "interestRateB", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "amountIn", "type": "uint256"},
      {"internalType": "uint256", "name": "reserveIn", "type": "uint256"},
      {"internalType": "uint256", "name": "reserveOut", "type": "uint256"}
    ],
    "name": "getAmountOut",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "pure",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "address", "name": "user", "type": "address"}
    ],
    "name": "userShares",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "user", "type": "address"},
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"}
    ],
    "name": "getUserPosition",
    "outputs": [
      {"internalType": "uint256", "name": "collateralA", "type": "uint256"},
      {"internalType": "uint256", "name": "collateralB", "type": "uint256"},
      {"internalType": "uint256", "name": "borrowedA", "type": "uint256"},
      {"internalType": "uint256", "name": "borrowedB", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "tokenA", "type": "address"},
      {"internalType": "address", "name": "tokenB", "type": "address"}
    ],
    "name": "createPool",
    "outputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "uint256", "name": "amountA", "type": "uint256"},
      {"internalType": "uint256", "name": "amountB", "type": "uint256"}
    ],
    "name": "addLiquidity",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "removeLiquidity",
    "outputs": [
      {"internalType": "uint256", "name": "amountA", "type": "uint256"},
      {"internalType": "uint256", "name": "amountB", "type": "uint256"}
    ],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "address", "name": "tokenIn", "type": "address"},
      {"internalType": "uint256", "name": "amountIn", "type": "uint256"},
      {"internalType": "uint256", "name": "minAmountOut", "type": "uint256"}
    ],
    "name": "swap",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "address", "name": "token", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "depositCollateral",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "address", "name": "token", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "borrow",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "address", "name": "token", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "repay",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "address", "name": "token", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "withdrawCollateral",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const tokenABIJSON = `[
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}], "name": "allowance", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "approve", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [], "name": "faucet", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	exchangeABI     abi.ABI
	exchangeABIOnce sync.Once
	exchangeABIErr  error
	tokenABI        abi.ABI
	tokenABIOnce    sync.Once
	tokenABIErr     error
)

// ExchangeABI returns the parsed exchange/lending service ABI.
func ExchangeABI() (abi.ABI, error) {
	exchangeABIOnce.Do(func() {
		exchangeABI, exchangeABIErr = abi.JSON(strings.NewReader(exchangeABIJSON))
	})
	return exchangeABI, exchangeABIErr
}

// TokenABI returns the parsed mock token ABI.
func TokenABI() (abi.ABI, error) {
	tokenABIOnce.Do(func() {
		tokenABI, tokenABIErr = abi.JSON(strings.NewReader(tokenABIJSON))
	})
	return tokenABI, tokenABIErr
}
