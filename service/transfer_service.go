package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	// TEP-74 jetton transfer op code.
	jettonTransferOp = 0xf8a7ea5

	// Wallet v4r2 defaults for the hot wallet.
	subwalletID = 698983191
	messageTTL  = 60 * time.Second

	// TON attached to the jetton-wallet call to cover gas, and the nano-TON
	// forwarded to the recipient as a transfer notification.
	attachedTonAmount = 50_000_000 // 0.05 TON
	forwardTonAmount  = 1

	// send mode: pay fees separately, ignore action errors.
	sendMode = 3
)

// TransferEngine moves jettons from the custodial hot wallet to a user's
// address: resolve the hot wallet's jetton sub-account, fetch the wallet
// seqno, build and sign the transfer, broadcast it. It performs no retries
// and no ledger writes; the withdraw service owns reconciliation.
type TransferEngine struct {
	signer    *Signer
	hotWallet *address.Address
	master    *address.Address
	resolvers []JettonWalletResolver
	seqno     SeqnoOracle
	bcast     Broadcaster
	log       *logrus.Entry
}

func NewTransferEngine(signer *Signer, hotWallet, jettonMaster string, resolvers []JettonWalletResolver, seqno SeqnoOracle, bcast Broadcaster) (*TransferEngine, error) {
	hw, err := parseAnyAddr(hotWallet)
	if err != nil {
		return nil, fmt.Errorf("hot wallet address: %w", err)
	}
	master, err := parseAnyAddr(jettonMaster)
	if err != nil {
		return nil, fmt.Errorf("jetton master address: %w", err)
	}
	return &TransferEngine{
		signer:    signer,
		hotWallet: hw,
		master:    master,
		resolvers: resolvers,
		seqno:     seqno,
		bcast:     bcast,
		log:       logrus.WithField("component", "transfer_engine"),
	}, nil
}

// Transfer sends amount (nano units) to dest and returns the hex hash of the
// external message cell as the transaction reference. The hash identifies the
// message we signed, not necessarily the chain's final transaction id.
func (e *TransferEngine) Transfer(ctx context.Context, dest string, amount int64) (string, error) {
	destAddr, err := parseAnyAddr(dest)
	if err != nil {
		return "", Wrap(CodeTransferFailed, "invalid destination address", err)
	}

	jettonWallet, err := e.resolveJettonWallet(ctx)
	if err != nil {
		return "", err
	}

	seqCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	seq, err := e.seqno.Seqno(seqCtx, e.hotWallet.String())
	cancel()
	if err != nil {
		return "", Wrap(CodeTransferFailed, "failed to fetch wallet seqno", err)
	}

	ext := e.buildExternalMessage(jettonWallet, destAddr, big.NewInt(amount), seq)

	sendCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	err = e.bcast.SendBoc(sendCtx, ext.ToBOC())
	cancel()
	if err != nil {
		return "", Wrap(CodeTransferFailed, "broadcast rejected by network", err)
	}

	hash := hex.EncodeToString(ext.Hash())
	e.log.WithFields(logrus.Fields{
		"seqno":   seq,
		"tx_hash": hash,
	}).Info("jetton transfer broadcast accepted")
	return hash, nil
}

// resolveJettonWallet finds the hot wallet's token sub-account, trying each
// provider in order. Only when every provider fails is the transfer aborted.
func (e *TransferEngine) resolveJettonWallet(ctx context.Context) (*address.Address, error) {
	var errs []string
	for _, r := range e.resolvers {
		rctx, cancel := context.WithTimeout(ctx, providerTimeout)
		raw, err := r.ResolveJettonWallet(rctx, e.hotWallet.String(), e.master.String())
		cancel()
		if err != nil {
			e.log.WithField("provider", r.Name()).WithError(err).Warn("jetton wallet resolution failed")
			errs = append(errs, fmt.Sprintf("%s: %v", r.Name(), err))
			continue
		}
		addr, err := parseAnyAddr(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: bad address %q", r.Name(), raw))
			continue
		}
		return addr, nil
	}
	return nil, E(CodeTokenAccountResolutionFailed, "all providers failed: "+strings.Join(errs, "; "))
}

// buildExternalMessage assembles and signs the wallet-v4 envelope around the
// jetton transfer body.
func (e *TransferEngine) buildExternalMessage(jettonWallet, dest *address.Address, amount *big.Int, seq uint32) *cell.Cell {
	queryID := uint64(time.Now().UnixNano())

	// Jetton transfer body (TEP-74): excess gas returns to the hot wallet,
	// no custom payload, minimal forward amount for the notification.
	body := cell.BeginCell().
		MustStoreUInt(jettonTransferOp, 32).
		MustStoreUInt(queryID, 64).
		MustStoreBigCoins(amount).
		MustStoreAddr(dest).
		MustStoreAddr(e.hotWallet).
		MustStoreBoolBit(false).
		MustStoreCoins(forwardTonAmount).
		MustStoreBoolBit(false).
		EndCell()

	// Internal message: hot wallet -> its jetton wallet, bounceable, carrying
	// the gas budget. 0x18 = int_msg_info, ihr disabled, bounce set, src none.
	internal := cell.BeginCell().
		MustStoreUInt(0x18, 6).
		MustStoreAddr(jettonWallet).
		MustStoreCoins(attachedTonAmount).
		MustStoreUInt(0, 1+4+4+64+32). // no extra currencies, zero fees, lt/time set by validators
		MustStoreBoolBit(false).       // no state init
		MustStoreBoolBit(true).        // body in ref
		MustStoreRef(body).
		EndCell()

	validUntil := uint64(time.Now().Add(messageTTL).Unix())

	toSign := cell.BeginCell().
		MustStoreUInt(subwalletID, 32).
		MustStoreUInt(validUntil, 32).
		MustStoreUInt(uint64(seq), 32).
		MustStoreUInt(0, 8). // wallet v4 op: plain send
		MustStoreUInt(sendMode, 8).
		MustStoreRef(internal).
		EndCell()

	sig := e.signer.Sign(toSign.Hash())

	signedBody := cell.BeginCell().
		MustStoreSlice(sig, 512).
		MustStoreUInt(subwalletID, 32).
		MustStoreUInt(validUntil, 32).
		MustStoreUInt(uint64(seq), 32).
		MustStoreUInt(0, 8).
		MustStoreUInt(sendMode, 8).
		MustStoreRef(internal).
		EndCell()

	// ext_in_msg_info$10, src addr_none, zero import fee, body in ref.
	return cell.BeginCell().
		MustStoreUInt(0b10, 2).
		MustStoreUInt(0, 2).
		MustStoreAddr(e.hotWallet).
		MustStoreCoins(0).
		MustStoreBoolBit(false).
		MustStoreBoolBit(true).
		MustStoreRef(signedBody).
		EndCell()
}

// parseAnyAddr accepts both user-friendly (base64) and raw (wc:hex) forms;
// indexers answer in raw form while callers send user-friendly addresses.
func parseAnyAddr(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if addr, err := address.ParseAddr(s); err == nil {
		return addr, nil
	}
	return address.ParseRawAddr(s)
}
