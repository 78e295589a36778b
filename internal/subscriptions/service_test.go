package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/pkg/billing"
	"github.com/rcourtman/subtracker/pkg/currency"
)

var testNow = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, func() time.Time { return testNow }), st
}

func strPtr(s string) *string { return &s }

func validInput() Input {
	return Input{
		Name:         "Music",
		Price:        "9.99",
		Currency:     "usd",
		BillingCycle: "monthly",
		StartDate:    "2025-01-10",
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw     string
		code    currency.Code
		want    string
		wantErr bool
	}{
		{"9.99", currency.USD, "9.99", false},
		{"9.90", currency.USD, "9.9", false},
		{"10", currency.EUR, "10", false},
		{" 1500 ", currency.JPY, "1500", false},
		{"1500.5", currency.JPY, "", true},
		{"9.999", currency.USD, "", true},
		{"9.990", currency.USD, "9.99", false},
		{"0", currency.USD, "", true},
		{"-5", currency.USD, "", true},
		{"abc", currency.USD, "", true},
		{"", currency.USD, "", true},
		{"1000000", currency.USD, "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.code)+"/"+tt.raw, func(t *testing.T) {
			got, err := ParsePrice(tt.raw, tt.code)
			if tt.wantErr {
				v, ok := apperrors.AsValidation(err)
				require.True(t, ok, "want validation error, got %v", err)
				assert.Equal(t, "price", v.Field)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestAmountAcceptsNumbersAndStrings(t *testing.T) {
	var in Input
	require.NoError(t, json.Unmarshal([]byte(`{"price": 12.50}`), &in))
	assert.Equal(t, Amount("12.50"), in.Price)
	require.NoError(t, json.Unmarshal([]byte(`{"price": "7.25"}`), &in))
	assert.Equal(t, Amount("7.25"), in.Price)
	require.NoError(t, json.Unmarshal([]byte(`{"price": null}`), &in))
	assert.Equal(t, Amount(""), in.Price)
}

func TestCreateValidationIsFieldLevel(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Input)
		field string
	}{
		{"blank name", func(in *Input) { in.Name = "  " }, "name"},
		{"bad currency", func(in *Input) { in.Currency = "XXX" }, "currency"},
		{"zero price", func(in *Input) { in.Price = "0" }, "price"},
		{"bad start", func(in *Input) { in.StartDate = "10/01/2025" }, "start_date"},
		{"next before start", func(in *Input) { in.NextBillingDate = "2024-12-31" }, "next_billing_date"},
		{"unknown category", func(in *Input) { in.CategoryID = strPtr("nope") }, "category_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t)
			in := validInput()
			tt.mod(&in)

			_, err := svc.Create(context.Background(), "owner", in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
			v, ok := apperrors.AsValidation(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, v.Field)

			subs, err := st.ListSubscriptions(context.Background(), "owner")
			require.NoError(t, err)
			assert.Empty(t, subs, "invalid input must not write")
		})
	}
}

func TestCreateDerivesNextBillingDate(t *testing.T) {
	svc, _ := newTestService(t)

	in := validInput()
	in.CategoryID = strPtr("default-entertainment")
	sub, err := svc.Create(context.Background(), "owner", in)
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, currency.USD, sub.Currency)
	assert.Equal(t, billing.Monthly, sub.BillingCycle)
	assert.Equal(t, "Entertainment", sub.CategoryName)
	// Started Jan 10, monthly; first charge on or after Jun 15 is Jul 10.
	assert.Equal(t, time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), sub.NextBillingDate)

	future := validInput()
	future.StartDate = "2025-09-01"
	future.BillingCycle = "annual"
	sub, err = svc.Create(context.Background(), "owner", future)
	require.NoError(t, err)
	assert.Equal(t, billing.Yearly, sub.BillingCycle)
	assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), sub.NextBillingDate)

	// A month-end start is charged on the last day of shorter months.
	monthEnd := validInput()
	monthEnd.StartDate = "2025-01-31"
	sub, err = svc.Create(context.Background(), "owner", monthEnd)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), sub.NextBillingDate)
}

func TestUpdateAndDeleteAreOwnerScoped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, "alice", validInput())
	require.NoError(t, err)

	edit := validInput()
	edit.Price = "12.00"
	_, err = svc.Update(ctx, "bob", sub.ID, edit)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	updated, err := svc.Update(ctx, "alice", sub.ID, edit)
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(decimal.NewFromInt(12)))

	assert.True(t, errors.Is(svc.Delete(ctx, "bob", sub.ID), apperrors.ErrNotFound))
	require.NoError(t, svc.Delete(ctx, "alice", sub.ID))
	_, err = svc.Get(ctx, "alice", sub.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCreateCategory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateCategory(ctx, "owner", "  Gaming ")
	require.NoError(t, err)
	assert.Equal(t, "Gaming", c.Name)

	_, err = svc.CreateCategory(ctx, "owner", "Gaming")
	v, ok := apperrors.AsValidation(err)
	require.True(t, ok, "duplicate name should be a validation error, got %v", err)
	assert.Equal(t, "name", v.Field)

	_, err = svc.CreateCategory(ctx, "owner", "Entertainment")
	_, ok = apperrors.AsValidation(err)
	assert.True(t, ok, "default names are taken")

	_, err = svc.CreateCategory(ctx, "owner", "gaming")
	assert.NoError(t, err, "names are case sensitive")

	_, err = svc.CreateCategory(ctx, "other", "Gaming")
	assert.NoError(t, err, "names are unique per owner")
}

func TestDeleteCategoryDetachesSubscriptions(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	cat, err := svc.CreateCategory(ctx, "owner", "Gaming")
	require.NoError(t, err)
	in := validInput()
	in.CategoryID = &cat.ID
	sub, err := svc.Create(ctx, "owner", in)
	require.NoError(t, err)

	detached, err := svc.DeleteCategory(ctx, "owner", cat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{sub.ID}, detached)

	got, err := st.GetSubscription(ctx, "owner", sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)

	spendSubs := ToSpend([]*store.Subscription{got})
	require.Len(t, spendSubs, 1)
	assert.Empty(t, spendSubs[0].Category)

	_, err = svc.DeleteCategory(ctx, "owner", "default-health")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestToSpend(t *testing.T) {
	next := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	out := ToSpend([]*store.Subscription{
		nil,
		{ID: "a", Name: "A", Price: decimal.RequireFromString("120"), Currency: currency.GBP, BillingCycle: billing.Yearly, CategoryName: "Utilities", StartDate: start, NextBillingDate: next},
	})
	require.Len(t, out, 1)
	assert.Equal(t, 120.0, out[0].Price)
	assert.Equal(t, currency.GBP, out[0].Currency)
	assert.Equal(t, "Utilities", out[0].Category)
	assert.Equal(t, next, out[0].NextBilling)
	assert.Equal(t, start, out[0].Start)
}
