package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// horizonRequestTimeout bounds each Horizon call on a custom endpoint.
const horizonRequestTimeout = 60 * time.Second

// StellarConfig contains Stellar network configuration
type StellarConfig struct {
	HorizonURL      string `json:"horizon_url"`
	IssuerSecretKey string `json:"issuer_secret_key"`
	Network         string `json:"network"` // "testnet" or "public"
}

// StellarClient anchors certificates as ManageData transactions signed by a
// single issuer account.
type StellarClient struct {
	horizon           horizonclient.ClientInterface
	issuer            *keypair.Full
	networkPassphrase string
	logger            *zap.Logger

	// submitting serializes submissions; the issuer account has one sequence number.
	submitting *semaphore.Weighted
}

// NewStellarClient creates a new Stellar client
func NewStellarClient(cfg StellarConfig, logger *zap.Logger) (*StellarClient, error) {
	horizon := horizonclient.DefaultTestNetClient
	if cfg.Network == "public" {
		horizon = horizonclient.DefaultPublicNetClient
	}
	if cfg.HorizonURL != "" {
		horizon = &horizonclient.Client{
			HorizonURL: cfg.HorizonURL,
			HTTP:       &http.Client{Timeout: horizonRequestTimeout},
		}
	}

	issuer, err := keypair.ParseFull(cfg.IssuerSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer key pair: %w", err)
	}

	passphrase := network.TestNetworkPassphrase
	if cfg.Network == "public" {
		passphrase = network.PublicNetworkPassphrase
	}

	return newStellarClient(horizon, issuer, passphrase, logger), nil
}

func newStellarClient(horizon horizonclient.ClientInterface, issuer *keypair.Full, passphrase string, logger *zap.Logger) *StellarClient {
	return &StellarClient{
		horizon:           horizon,
		issuer:            issuer,
		networkPassphrase: passphrase,
		logger:            logger.With(zap.String("component", "stellar")),
		submitting:        semaphore.NewWeighted(1),
	}
}

// CreateCertificate builds one transaction holding the template id and every
// binding pair, then submits it in the background.
func (c *StellarClient) CreateCertificate(ctx context.Context, templateID string, keys, values []string) (PendingTx, error) {
	if err := ValidateEntries(templateID, keys, values); err != nil {
		return nil, err
	}

	ops := make([]txnbuild.Operation, 0, len(keys)+1)
	ops = append(ops, &txnbuild.ManageData{Name: templateEntry, Value: encodeValue(templateID)})
	for i, k := range keys {
		ops = append(ops, &txnbuild.ManageData{Name: entryName(i, k), Value: encodeValue(values[i])})
	}

	return c.submit(ctx, ops, "certificate")
}

// RevokeCertificate writes a revocation marker naming the certificate.
func (c *StellarClient) RevokeCertificate(ctx context.Context, certificateID string) error {
	pending, err := c.submit(ctx, []txnbuild.Operation{
		&txnbuild.ManageData{Name: revokedEntry, Value: []byte(certificateID)},
	}, "revocation")
	if err != nil {
		return err
	}
	_, err = pending.Wait(ctx)
	return err
}

// GetCertificateInfo reads the certificate transaction's data operations back
// from Horizon.
func (c *StellarClient) GetCertificateInfo(ctx context.Context, certificateID string) (*CertificateInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := c.horizon.TransactionDetail(certificateID)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	if !tx.Successful {
		// A failed transaction applied none of its data entries.
		return nil, ErrCertificateNotFound
	}

	page, err := c.horizon.Operations(horizonclient.OperationRequest{ForTransaction: certificateID, Limit: 200})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch operations: %w", err)
	}

	type pair struct {
		pos   int
		key   string
		value string
	}
	var (
		pairs      []pair
		templateID string
		found      bool
	)
	for _, rec := range page.Embedded.Records {
		md, ok := rec.(operations.ManageData)
		if !ok {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(md.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", md.Name, err)
		}
		if md.Name == templateEntry {
			templateID = decodeValue(raw)
			found = true
			continue
		}
		if pos, key, ok := parseEntryName(md.Name); ok {
			pairs = append(pairs, pair{pos: pos, key: key, value: decodeValue(raw)})
		}
	}
	if !found {
		return nil, ErrCertificateNotFound
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })
	info := &CertificateInfo{
		CertificateID:   certificateID,
		TemplateID:      templateID,
		Keys:            make([]string, 0, len(pairs)),
		Values:          make([]string, 0, len(pairs)),
		TransactionHash: tx.Hash,
		Ledger:          tx.Ledger,
	}
	for _, p := range pairs {
		info.Keys = append(info.Keys, p.key)
		info.Values = append(info.Values, p.value)
	}
	return info, nil
}

// submit holds the submission slot from the account read until Horizon
// answers, so sequence numbers are never reused. Waiting for the slot
// follows ctx; an abandoned confirmation does not stall later callers
// beyond their own deadline.
func (c *StellarClient) submit(ctx context.Context, ops []txnbuild.Operation, memo string) (*stellarPending, error) {
	if err := c.submitting.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for ledger submission slot: %w", err)
	}
	release := func() { c.submitting.Release(1) }

	account, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: c.issuer.Address()})
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to get issuer account: %w", err)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              txnbuild.MinBaseFee,
		Memo:                 txnbuild.MemoText(memo),
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	tx, err = tx.Sign(c.networkPassphrase, c.issuer)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	hash, err := tx.HashHex(c.networkPassphrase)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to hash transaction: %w", err)
	}

	p := &stellarPending{hash: hash, done: make(chan struct{})}
	go func() {
		defer release()
		defer close(p.done)

		resp, err := c.horizon.SubmitTransaction(tx)
		if err != nil {
			c.logger.Warn("Transaction submission failed",
				zap.String("tx_hash", hash), zap.Error(err))
			p.err = fmt.Errorf("failed to submit transaction: %w", err)
			return
		}
		if !resp.Successful {
			p.err = fmt.Errorf("%w: %s", ErrTransactionFailed, resp.ResultXdr)
			return
		}
		p.conf = &Confirmation{
			TxHash:        resp.Hash,
			CertificateID: resp.Hash,
			Ledger:        resp.Ledger,
			ConfirmedAt:   time.Now(),
		}
		c.logger.Info("Transaction confirmed",
			zap.String("tx_hash", resp.Hash), zap.Int32("ledger", resp.Ledger))
	}()

	return p, nil
}

type stellarPending struct {
	hash string
	done chan struct{}
	conf *Confirmation
	err  error
}

func (p *stellarPending) Hash() string { return p.hash }

// Wait blocks until Horizon answers or ctx ends. A context expiry does not
// cancel the submission; the transaction may still be applied later.
func (p *stellarPending) Wait(ctx context.Context) (*Confirmation, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		return p.conf, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for transaction %s: %w", p.hash, ctx.Err())
	}
}
