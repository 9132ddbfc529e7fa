package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mstgnz/shaparak/infra/conn"
	"github.com/mstgnz/shaparak/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Transactions {
	t.Helper()
	db, err := conn.OpenSQLite(filepath.Join(t.TempDir(), "shaparak.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewTransactions(db)
	require.NoError(t, err)
	return s
}

func newTxn(t *testing.T, orderID int64) *provider.BasicTransaction {
	t.Helper()
	txn, err := provider.NewTransaction(orderID, 250000, "https://shop.example.ir/callback")
	require.NoError(t, err)
	return txn
}

func TestTransactions_CreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, provider.Mellat, newTxn(t, 1001))
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.Mellat, got.Gateway)
	assert.EqualValues(t, 1001, got.Snapshot.GatewayOrderID)
	assert.EqualValues(t, 250000, got.Snapshot.PayableAmount)
	assert.Equal(t, provider.StatusCreated, got.Transaction().Status())
}

func TestTransactions_DuplicateOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, provider.Saman, newTxn(t, 7))
	require.NoError(t, err)

	_, err = s.Create(ctx, provider.Saman, newTxn(t, 7))
	assert.True(t, errors.Is(err, ErrDuplicateOrder))

	_, err = s.Create(ctx, provider.Mellat, newTxn(t, 7))
	assert.NoError(t, err, "order ids are scoped per gateway")
}

func TestTransactions_NotFound(t *testing.T) {
	_, err := newStore(t).Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTransactions_SaveProgress(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, provider.Zarinpal, newTxn(t, 42))
	require.NoError(t, err)

	txn := rec.Transaction()
	require.NoError(t, txn.SetGatewayToken("A000000000000000000000000000000000001"))
	require.NoError(t, txn.SetAwaitingCallback())
	require.NoError(t, txn.SetCallbackParameters(map[string]string{"Authority": "A1", "Status": "OK"}))
	require.NoError(t, txn.SetExtra("card_hash", "abc"))
	require.NoError(t, s.Save(ctx, rec, txn))
	assert.EqualValues(t, 2, rec.Version)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	restored := got.Transaction()
	assert.Equal(t, provider.StatusCallbackReceived, restored.Status())
	assert.Equal(t, "OK", restored.CallbackParameters()["Status"])
	v, ok := restored.Extra("card_hash")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	counts, err := s.CountByStatus(ctx, provider.Zarinpal)
	require.NoError(t, err)
	assert.Equal(t, map[provider.Status]int{provider.StatusCallbackReceived: 1}, counts)
}

func TestTransactions_SaveConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, provider.Saderat, newTxn(t, 9))
	require.NoError(t, err)

	first, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	second, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)

	txn := first.Transaction()
	require.NoError(t, txn.SetFailed("user canceled"))
	require.NoError(t, s.Save(ctx, first, txn))

	err = s.Save(ctx, second, second.Transaction())
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestTransactions_CreateWithID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec, err := s.CreateWithID(ctx, "pay-1", provider.Ozone, newTxn(t, 11))
	require.NoError(t, err)
	assert.Equal(t, "pay-1", rec.ID)

	_, err = s.CreateWithID(ctx, "pay-1", provider.Saman, newTxn(t, 12))
	assert.Error(t, err)
}
