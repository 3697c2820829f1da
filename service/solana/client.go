// Package solana is the secondary settlement rail: it verifies that a buyer
// delivered a memo-correlated payment on the Solana network before the asset
// leg is executed on the primary ledger.
package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/uhx/settle/service/metrics"
)

// Well-known Solana program IDs, re-exported from the SDK so callers in
// other packages need not import it directly.
var (
	// SystemProgramID is the native SOL transfer program.
	SystemProgramID = solana.SystemProgramID

	// MemoProgramID is the SPL Memo program.
	MemoProgramID = solana.MemoProgramID
)

const systemProgramTransferInstruction = uint32(2)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Payment is a confirmed inbound transfer observed on the rail.
type Payment struct {
	Signature   string
	FromAddress *string
	Lamports    uint64
	Memo        *string
	BlockTime   time.Time
}

// Client verifies payments on the Solana rail.
type Client struct {
	rpc     RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new rail client. If m is nil, no metrics are recorded.
func NewClient(rpcClient RPCClient, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rpc: rpcClient, logger: logger, metrics: m}
}

// FindPaymentParams describes the payment being looked for.
type FindPaymentParams struct {
	Wallet      solana.PublicKey // receiving (bridge) wallet
	Memo        string           // exact memo the payment must carry
	MinLamports uint64
	Limit       int // signatures to scan; defaults to 100
}

// FindPayment scans the wallet's recent signatures newest-first for a
// confirmed transfer carrying the expected memo and at least the minimum
// amount. Returns nil (no error) when no matching payment exists yet.
func (c *Client) FindPayment(ctx context.Context, params FindPaymentParams) (*Payment, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, params.Wallet, &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	})
	c.recordCall("GetSignaturesForAddress", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}

	for _, sig := range signatures {
		if sig.Err != nil {
			continue // failed transaction
		}

		txnOpts := &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		}
		txnStart := time.Now()
		result, err := c.rpc.GetTransaction(ctx, sig.Signature, txnOpts)
		c.recordCall("GetTransaction", txnStart, err)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to fetch rail transaction",
				"signature", sig.Signature.String(),
				"error", err,
			)
			continue
		}

		payment, err := parsePayment(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse rail transaction",
				"signature", sig.Signature.String(),
				"error", err,
			)
			continue
		}

		if payment.Memo == nil || *payment.Memo != params.Memo {
			continue
		}
		if payment.Lamports < params.MinLamports {
			continue
		}

		c.logger.InfoContext(ctx, "rail payment verified",
			"signature", payment.Signature,
			"lamports", payment.Lamports,
		)
		return payment, nil
	}

	return nil, nil
}

func (c *Client) recordCall(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordSolanaRPCCall(method, status, time.Since(start).Seconds())
}

// parsePayment extracts the transfer amount and memo from a fetched
// transaction.
func parsePayment(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Payment, error) {
	payment := &Payment{Signature: sig.Signature.String()}
	if sig.BlockTime != nil {
		payment.BlockTime = sig.BlockTime.Time()
	}

	if result == nil {
		return payment, nil
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		if programID.Equals(SystemProgramID) {
			if lamports, from, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				payment.Lamports = lamports
				payment.FromAddress = from
			}
		}

		if programID.Equals(MemoProgramID) {
			if memo := parseMemo(instruction.Data); memo != "" {
				payment.Memo = &memo
			}
		}
	}
	return payment, nil
}

// parseSystemTransfer decodes a System Program Transfer instruction:
// [0..4] instruction type (u32, 2 = Transfer), [4..12] lamports (u64).
// Account layout is [from, to].
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *string, error) {
	if len(instruction.Data) < 12 {
		return 0, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	if binary.LittleEndian.Uint32(instruction.Data[0:4]) != systemProgramTransferInstruction {
		return 0, nil, fmt.Errorf("not a transfer instruction")
	}
	lamports := binary.LittleEndian.Uint64(instruction.Data[4:12])

	var from *string
	if len(instruction.Accounts) >= 1 && int(instruction.Accounts[0]) < len(accountKeys) {
		addr := accountKeys[instruction.Accounts[0]].String()
		from = &addr
	}
	return lamports, from, nil
}

// parseMemo extracts the memo text from a Memo Program instruction. Memos
// are raw UTF-8 bytes; some senders base64-encode them.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil {
		clean := true
		for _, c := range decoded {
			if c == 0 {
				clean = false
				break
			}
		}
		if clean {
			return string(decoded)
		}
	}
	return memo
}
