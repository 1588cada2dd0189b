package iap_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iap-reconciler/internal/iap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		platform iap.Platform
		op       iap.Operation
		err      error
		wantType iap.ErrorType
		wantCode *int
	}{
		{
			name:     "google connection native error",
			platform: iap.PlatformGoogle,
			op:       iap.OpPurchase,
			err:      &iap.NativeError{Code: 2, Message: "service unavailable", Connection: true},
			wantType: iap.ErrorTypeConnection,
			wantCode: intPtr(2),
		},
		{
			name:     "apple folds connection into fetch context",
			platform: iap.PlatformApple,
			op:       iap.OpFetchProducts,
			err:      &iap.NativeError{Code: 0, Message: "offline", Connection: true},
			wantType: iap.ErrorTypeFetchProducts,
			wantCode: intPtr(0),
		},
		{
			name:     "apple folds an existing connection error",
			platform: iap.PlatformApple,
			op:       iap.OpPurchase,
			err:      iap.NewConnectionError(iap.PlatformApple, 3, "no network"),
			wantType: iap.ErrorTypePurchase,
			wantCode: intPtr(3),
		},
		{
			name:     "wrapped iap error passes through",
			platform: iap.PlatformGoogle,
			op:       iap.OpFetchProducts,
			err:      fmt.Errorf("query: %w", iap.NewPurchaseError(iap.PlatformGoogle, 7, "already owned")),
			wantType: iap.ErrorTypePurchase,
			wantCode: intPtr(7),
		},
		{
			name:     "plain error takes the operation category",
			platform: iap.PlatformGoogle,
			op:       iap.OpFetchProducts,
			err:      errors.New("boom"),
			wantType: iap.ErrorTypeFetchProducts,
		},
		{
			name:     "finalize failures belong to the purchase flow",
			platform: iap.PlatformApple,
			op:       iap.OpFinalize,
			err:      errors.New("boom"),
			wantType: iap.ErrorTypePurchase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := iap.Classify(tt.platform, tt.op, tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.platform, got.Platform)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.NotEmpty(t, got.Message)
		})
	}

	assert.Nil(t, iap.Classify(iap.PlatformGoogle, iap.OpPurchase, nil))
}

func TestIAPError_IsUserCanceled(t *testing.T) {
	assert.True(t, iap.NewPurchaseError(iap.PlatformGoogle, iap.GoogleUserCanceled, "").IsUserCanceled())
	assert.True(t, iap.NewPurchaseError(iap.PlatformApple, iap.AppleUserCanceled, "").IsUserCanceled())
	assert.False(t, iap.NewPurchaseError(iap.PlatformApple, iap.GoogleUserCanceled, "").IsUserCanceled())
	assert.False(t, iap.NewFetchProductsError(iap.PlatformGoogle, iap.GoogleUserCanceled, "").IsUserCanceled())
	assert.False(t, (&iap.IAPError{Type: iap.ErrorTypePurchase, Platform: iap.PlatformGoogle}).IsUserCanceled())

	var nilErr *iap.IAPError
	assert.False(t, nilErr.IsUserCanceled())
}

func TestIAPError_Error(t *testing.T) {
	assert.Equal(t, "iap PURCHASE error (code 1): canceled", iap.NewPurchaseError(iap.PlatformGoogle, 1, "canceled").Error())
	assert.Equal(t, "iap FETCH_PRODUCTS error: bad", (&iap.IAPError{Type: iap.ErrorTypeFetchProducts, Message: "bad"}).Error())
}

func intPtr(v int) *int {
	return &v
}
