package vault

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// The vault exposes one privileged call per capital movement plus a few
// views the agent reads before sizing a trade. Calldata carries the venue
// labels on both legs and, on enters, the quoted net APY and intended hold,
// so the movement is auditable on chain alongside the transfer itself.
const vaultABIJSON = `[
  {
    "type": "function",
    "name": "enterPool",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "req",
        "type": "tuple",
        "components": [
          {"name": "target", "type": "address"},
          {"name": "pool", "type": "address"},
          {"name": "tokenIn", "type": "address"},
          {"name": "lpToken", "type": "address"},
          {"name": "amountIn", "type": "uint256"},
          {"name": "minOut", "type": "uint256"},
          {"name": "deadline", "type": "uint256"},
          {"name": "data", "type": "bytes"},
          {"name": "pair", "type": "string"},
          {"name": "protocol", "type": "string"},
          {"name": "netApyBps", "type": "uint256"},
          {"name": "intendedHoldSeconds", "type": "uint256"}
        ]
      }
    ],
    "outputs": [{"name": "lpReceived", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "exitPool",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "req",
        "type": "tuple",
        "components": [
          {"name": "target", "type": "address"},
          {"name": "pool", "type": "address"},
          {"name": "lpToken", "type": "address"},
          {"name": "tokenOut", "type": "address"},
          {"name": "amountIn", "type": "uint256"},
          {"name": "minOut", "type": "uint256"},
          {"name": "deadline", "type": "uint256"},
          {"name": "data", "type": "bytes"},
          {"name": "pair", "type": "string"},
          {"name": "protocol", "type": "string"}
        ]
      }
    ],
    "outputs": [{"name": "amountOut", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "rotate",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "exitReq",
        "type": "tuple",
        "components": [
          {"name": "target", "type": "address"},
          {"name": "pool", "type": "address"},
          {"name": "lpToken", "type": "address"},
          {"name": "tokenOut", "type": "address"},
          {"name": "amountIn", "type": "uint256"},
          {"name": "minOut", "type": "uint256"},
          {"name": "deadline", "type": "uint256"},
          {"name": "data", "type": "bytes"},
          {"name": "pair", "type": "string"},
          {"name": "protocol", "type": "string"}
        ]
      },
      {
        "name": "enterReq",
        "type": "tuple",
        "components": [
          {"name": "target", "type": "address"},
          {"name": "pool", "type": "address"},
          {"name": "tokenIn", "type": "address"},
          {"name": "lpToken", "type": "address"},
          {"name": "amountIn", "type": "uint256"},
          {"name": "minOut", "type": "uint256"},
          {"name": "deadline", "type": "uint256"},
          {"name": "data", "type": "bytes"},
          {"name": "pair", "type": "string"},
          {"name": "protocol", "type": "string"},
          {"name": "netApyBps", "type": "uint256"},
          {"name": "intendedHoldSeconds", "type": "uint256"}
        ]
      },
      {"name": "oldNetApyBps", "type": "uint256"},
      {"name": "newNetApyBps", "type": "uint256"},
      {"name": "reasonCode", "type": "uint256"}
    ],
    "outputs": [
      {"name": "amountOut", "type": "uint256"},
      {"name": "lpReceived", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "movementCapBps",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "hasOpenLpPosition",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "supportsAnytimeLiquidity",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "bool"}]
  }
]`

const erc20ABIJSON = `[
  {
    "type": "function",
    "name": "balanceOf",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

var (
	vaultABI = mustABI(vaultABIJSON)
	erc20ABI = mustABI(erc20ABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// EnterRequest describes a single deployment of deposit token into a venue.
type EnterRequest struct {
	Target              common.Address
	Pool                common.Address
	TokenIn             common.Address
	LpToken             common.Address
	AmountIn            *big.Int
	MinOut              *big.Int
	Deadline            *big.Int
	Data                []byte
	Pair                string
	Protocol            string
	NetApyBps           int
	IntendedHoldSeconds int64
}

// ExitRequest unwinds an LP position back into the deposit token.
type ExitRequest struct {
	Target   common.Address
	Pool     common.Address
	LpToken  common.Address
	TokenOut common.Address
	AmountLp *big.Int
	MinOut   *big.Int
	Deadline *big.Int
	Data     []byte
	Pair     string
	Protocol string
}

// RotateRequest is an exit and an enter the vault executes as one call on
// venues that support it.
type RotateRequest struct {
	Exit         ExitRequest
	Enter        EnterRequest
	OldNetApyBps int
	NewNetApyBps int
	ReasonCode   int
}

type enterCall struct {
	Target              common.Address
	Pool                common.Address
	TokenIn             common.Address
	LpToken             common.Address
	AmountIn            *big.Int
	MinOut              *big.Int
	Deadline            *big.Int
	Data                []byte
	Pair                string
	Protocol            string
	NetApyBps           *big.Int
	IntendedHoldSeconds *big.Int
}

type exitCall struct {
	Target   common.Address
	Pool     common.Address
	LpToken  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	MinOut   *big.Int
	Deadline *big.Int
	Data     []byte
	Pair     string
	Protocol string
}

func (r EnterRequest) call() (enterCall, error) {
	if r.AmountIn == nil || r.MinOut == nil || r.Deadline == nil {
		return enterCall{}, errors.New("enter request is missing amount, min out or deadline")
	}
	return enterCall{
		Target:              r.Target,
		Pool:                r.Pool,
		TokenIn:             r.TokenIn,
		LpToken:             r.LpToken,
		AmountIn:            r.AmountIn,
		MinOut:              r.MinOut,
		Deadline:            r.Deadline,
		Data:                r.Data,
		Pair:                r.Pair,
		Protocol:            r.Protocol,
		NetApyBps:           big.NewInt(int64(r.NetApyBps)),
		IntendedHoldSeconds: big.NewInt(r.IntendedHoldSeconds),
	}, nil
}

func (r ExitRequest) call() (exitCall, error) {
	if r.AmountLp == nil || r.MinOut == nil || r.Deadline == nil {
		return exitCall{}, errors.New("exit request is missing lp amount, min out or deadline")
	}
	return exitCall{
		Target:   r.Target,
		Pool:     r.Pool,
		LpToken:  r.LpToken,
		TokenOut: r.TokenOut,
		AmountIn: r.AmountLp,
		MinOut:   r.MinOut,
		Deadline: r.Deadline,
		Data:     r.Data,
		Pair:     r.Pair,
		Protocol: r.Protocol,
	}, nil
}

// EnterCalldata encodes an enterPool call.
func EnterCalldata(req EnterRequest) ([]byte, error) {
	call, err := req.call()
	if err != nil {
		return nil, err
	}
	data, err := vaultABI.Pack("enterPool", call)
	if err != nil {
		return nil, fmt.Errorf("pack enterPool: %w", err)
	}
	return data, nil
}

// ExitCalldata encodes an exitPool call.
func ExitCalldata(req ExitRequest) ([]byte, error) {
	call, err := req.call()
	if err != nil {
		return nil, err
	}
	data, err := vaultABI.Pack("exitPool", call)
	if err != nil {
		return nil, fmt.Errorf("pack exitPool: %w", err)
	}
	return data, nil
}

// RotateCalldata encodes an atomic rotate call carrying both legs.
func RotateCalldata(req RotateRequest) ([]byte, error) {
	exit, err := req.Exit.call()
	if err != nil {
		return nil, err
	}
	enter, err := req.Enter.call()
	if err != nil {
		return nil, err
	}
	data, err := vaultABI.Pack(
		"rotate",
		exit,
		enter,
		big.NewInt(int64(req.OldNetApyBps)),
		big.NewInt(int64(req.NewNetApyBps)),
		big.NewInt(int64(req.ReasonCode)),
	)
	if err != nil {
		return nil, fmt.Errorf("pack rotate: %w", err)
	}
	return data, nil
}
