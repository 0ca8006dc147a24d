package tonchain

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"time"

	"spinsettle/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	pageSize       = 15
	defaultMaxScan = 300
)

// ChainAPI is the part of the liteclient API the lookup needs.
type ChainAPI interface {
	CurrentMasterchainInfo(ctx context.Context) (*ton.BlockIDExt, error)
	GetAccount(ctx context.Context, block *ton.BlockIDExt, addr *address.Address) (*tlb.Account, error)
	ListTransactions(ctx context.Context, addr *address.Address, num uint32, lt uint64, txHash []byte) ([]*tlb.Transaction, error)
}

// Lookup scans the receiving wallet's recent incoming transfers for a comment.
type Lookup struct {
	api     ChainAPI
	seen    SeenStore
	maxScan int
}

func NewLookup(api ChainAPI, seen SeenStore) *Lookup {
	return &Lookup{api: api, seen: seen, maxScan: defaultMaxScan}
}

// LookupTransfers returns transfers to destination whose text comment equals
// memo, oldest first.
func (l *Lookup) LookupTransfers(ctx context.Context, destination, memo string) ([]models.Transfer, error) {
	addr, err := address.ParseAddr(destination)
	if err != nil {
		return nil, err
	}

	master, err := l.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		log.Error("Failed to get master info:", err)
		return nil, err
	}

	acc, err := l.api.GetAccount(ctx, master, addr)
	if err != nil {
		return nil, err
	}
	if !acc.IsActive || acc.LastTxLT == 0 {
		return nil, models.ErrTransferNotFound
	}

	var found []*tlb.Transaction
	lt, hash := acc.LastTxLT, acc.LastTxHash
	for scanned := 0; scanned < l.maxScan && lt != 0; {
		txs, err := l.api.ListTransactions(ctx, addr, pageSize, lt, hash)
		if errors.Is(err, ton.ErrNoTransactionsWereFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			break
		}

		oldest := txs[0]
		for _, tx := range txs {
			if tx.LT < oldest.LT {
				oldest = tx
			}
			if _, ok := matchTransfer(tx, destination, memo); ok {
				found = append(found, tx)
			}
		}
		scanned += len(txs)
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}

	if len(found) == 0 {
		return nil, models.ErrTransferNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].LT < found[j].LT })

	res := make([]models.Transfer, 0, len(found))
	for _, tx := range found {
		t, _ := matchTransfer(tx, destination, memo)
		first, err := l.seen.FirstSeen(ctx, t.Hash, master.SeqNo)
		if err != nil {
			log.WithFields(logrus.Fields{"tx": t.Hash}).Warn("Failed read first seen seqno: ", err)
			first = master.SeqNo
		}
		t.Confirmations = Confirmations(first, master.SeqNo)
		res = append(res, t)
	}
	return res, nil
}

// matchTransfer accepts a non-bounced internal TON transfer to destination
// carrying memo as a plain text comment.
func matchTransfer(tx *tlb.Transaction, destination, memo string) (models.Transfer, bool) {
	if tx == nil || tx.IO.In == nil || tx.IO.In.MsgType != tlb.MsgTypeInternal {
		return models.Transfer{}, false
	}
	ti := tx.IO.In.AsInternal()
	if ti.Bounced || ti.Body == nil {
		return models.Transfer{}, false
	}
	if ti.DstAddr == nil || !SameAddress(ti.DstAddr.String(), destination) {
		return models.Transfer{}, false
	}

	comment, ok := commentOf(ti.Body)
	if !ok || comment != memo {
		return models.Transfer{}, false
	}

	return models.Transfer{
		Hash:   hex.EncodeToString(tx.Hash),
		Amount: ti.Amount.Nano().Int64(),
		At:     time.Unix(int64(tx.Now), 0),
	}, true
}

func commentOf(body *cell.Cell) (string, bool) {
	s := body.BeginParse()
	op, err := s.LoadUInt(32)
	if err != nil || op != 0 {
		return "", false
	}
	text, err := s.LoadStringSnake()
	if err != nil {
		return "", false
	}
	return text, true
}
