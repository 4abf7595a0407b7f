package ledger

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/support/render/problem"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStellarClient(t *testing.T) (*StellarClient, *horizonclient.MockClient, *keypair.Full) {
	t.Helper()
	issuer := keypair.MustRandom()
	hc := &horizonclient.MockClient{}
	hc.On("AccountDetail", horizonclient.AccountRequest{AccountID: issuer.Address()}).
		Return(hProtocol.Account{AccountID: issuer.Address(), Sequence: 100}, nil)
	return newStellarClient(hc, issuer, network.TestNetworkPassphrase, zap.NewNop()), hc, issuer
}

func manageData(name, value string) operations.ManageData {
	return operations.ManageData{
		Name:  name,
		Value: base64.StdEncoding.EncodeToString(encodeValue(value)),
	}
}

func TestStellarCreateCertificateEncodesEntries(t *testing.T) {
	ctx := context.Background()
	client, hc, _ := newTestStellarClient(t)

	var submitted *txnbuild.Transaction
	hc.On("SubmitTransaction", mock.AnythingOfType("*txnbuild.Transaction")).
		Run(func(args mock.Arguments) { submitted = args.Get(0).(*txnbuild.Transaction) }).
		Return(hProtocol.Transaction{Successful: true, Hash: "abc", Ledger: 7}, nil)

	pending, err := client.CreateCertificate(ctx, "tmpl-1",
		[]string{"studentName", "principal"}, []string{"Ada Lovelace", ""})
	require.NoError(t, err)
	assert.Len(t, pending.Hash(), 64)

	conf, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", conf.CertificateID)
	assert.Equal(t, "abc", conf.TxHash)
	assert.Equal(t, int32(7), conf.Ledger)

	require.NotNil(t, submitted)
	assert.Equal(t, int64(101), submitted.SourceAccount().Sequence)

	ops := submitted.Operations()
	require.Len(t, ops, 3)
	var names []string
	var values []string
	for _, op := range ops {
		md, ok := op.(*txnbuild.ManageData)
		require.True(t, ok)
		names = append(names, md.Name)
		values = append(values, string(md.Value))
	}
	assert.Equal(t, []string{"template_id", "00:studentName", "01:principal"}, names)
	// An empty value still writes a non-empty entry.
	assert.Equal(t, []string{"=tmpl-1", "=Ada Lovelace", "="}, values)
	hc.AssertExpectations(t)
}

func TestStellarCreateCertificateRejectedByLedger(t *testing.T) {
	ctx := context.Background()
	client, hc, _ := newTestStellarClient(t)
	hc.On("SubmitTransaction", mock.Anything).
		Return(hProtocol.Transaction{Successful: false, ResultXdr: "AAAAAAAAAGT////7AAAAAA=="}, nil)

	pending, err := client.CreateCertificate(ctx, "tmpl-1", []string{"k"}, []string{"v"})
	require.NoError(t, err)

	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestStellarCreateCertificateValidatesBeforeSubmitting(t *testing.T) {
	client, hc, _ := newTestStellarClient(t)

	_, err := client.CreateCertificate(context.Background(), "tmpl-1", []string{"k"}, []string{string(make([]byte, MaxEntryBytes))})

	assert.ErrorIs(t, err, ErrEntryTooLong)
	hc.AssertNotCalled(t, "AccountDetail", mock.Anything)
}

func TestStellarSubmissionSlotFollowsContext(t *testing.T) {
	client, hc, _ := newTestStellarClient(t)

	block := make(chan time.Time)
	hc.On("SubmitTransaction", mock.Anything).
		WaitUntil(block).
		Return(hProtocol.Transaction{Successful: true, Hash: "first", Ledger: 1}, nil).Once()

	first, err := client.CreateCertificate(context.Background(), "tmpl-1", []string{"k"}, []string{"a"})
	require.NoError(t, err)

	// The first submission holds the slot; the second gives up at its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.CreateCertificate(ctx, "tmpl-1", []string{"k"}, []string{"b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	_, err = first.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	conf, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", conf.CertificateID)

	hc.On("SubmitTransaction", mock.Anything).
		Return(hProtocol.Transaction{Successful: true, Hash: "second", Ledger: 2}, nil).Once()
	next, err := client.CreateCertificate(context.Background(), "tmpl-1", []string{"k"}, []string{"c"})
	require.NoError(t, err)
	conf, err = next.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", conf.CertificateID)
}

func TestStellarGetCertificateInfo(t *testing.T) {
	client, hc, _ := newTestStellarClient(t)

	hc.On("TransactionDetail", "tx1").
		Return(hProtocol.Transaction{Hash: "tx1", Ledger: 9, Successful: true}, nil)
	var page operations.OperationsPage
	page.Embedded.Records = []operations.Operation{
		manageData("01:date", "1843-09-01"),
		manageData("template_id", "tmpl-1"),
		manageData("00:studentName", "Ada Lovelace"),
		manageData("02:principal", ""),
	}
	hc.On("Operations", horizonclient.OperationRequest{ForTransaction: "tx1", Limit: 200}).Return(page, nil)

	info, err := client.GetCertificateInfo(context.Background(), "tx1")
	require.NoError(t, err)

	assert.Equal(t, "tmpl-1", info.TemplateID)
	assert.Equal(t, []string{"studentName", "date", "principal"}, info.Keys)
	assert.Equal(t, []string{"Ada Lovelace", "1843-09-01", ""}, info.Values)
	assert.Equal(t, "tx1", info.TransactionHash)
	assert.Equal(t, int32(9), info.Ledger)
}

func TestStellarGetCertificateInfoNotFound(t *testing.T) {
	client, hc, _ := newTestStellarClient(t)

	hc.On("TransactionDetail", "missing").Return(hProtocol.Transaction{}, &horizonclient.Error{
		Problem: problem.P{Type: "https://stellar.org/horizon-errors/not_found", Status: 404},
	})
	hc.On("TransactionDetail", "failed").Return(hProtocol.Transaction{Hash: "failed", Successful: false}, nil)

	var page operations.OperationsPage
	page.Embedded.Records = []operations.Operation{manageData("00:k", "v")}
	hc.On("TransactionDetail", "unrelated").Return(hProtocol.Transaction{Hash: "unrelated", Successful: true}, nil)
	hc.On("Operations", horizonclient.OperationRequest{ForTransaction: "unrelated", Limit: 200}).Return(page, nil)

	for _, id := range []string{"missing", "failed", "unrelated"} {
		_, err := client.GetCertificateInfo(context.Background(), id)
		assert.ErrorIs(t, err, ErrCertificateNotFound, id)
	}
}
