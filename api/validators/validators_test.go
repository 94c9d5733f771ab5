package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
)

type consumeBody struct {
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	OperationRef string `json:"operation_ref" validate:"required,notblank,max=200"`
}

func decode(t *testing.T, body string) error {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/credits/consume", strings.NewReader(body))
	var dest consumeBody
	return DecodeJSONBody(req, &dest)
}

func requireValidation(t *testing.T, err error) *pkgerrors.Error {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	return typed
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	require.NoError(t, decode(t, `{"amount":5,"operation_ref":"render-42"}`))
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	typed := requireValidation(t, decode(t, `{"amount":0,"operation_ref":"   "}`))
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "is required", details["amount"])
	require.Equal(t, "is required", details["operation_ref"])
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":    ``,
		"unknown":  `{"amount":1,"operation_ref":"x","extra":true}`,
		"trailing": `{"amount":1,"operation_ref":"x"}{"amount":2}`,
		"syntax":   `{"amount":`,
		"too big":  `{"amount":1,"operation_ref":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			requireValidation(t, decode(t, body))
		})
	}
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/credits/history?limit=10&active_only=true&type=consume", nil)

	limit, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 10, limit)

	active, err := ParseQueryBool(req, "active_only", false)
	require.NoError(t, err)
	require.True(t, active)

	txType, err := ParseQueryEnum(req, "type", enums.ParseCreditTransactionType)
	require.NoError(t, err)
	require.NotNil(t, txType)

	missing, err := ParseQueryEnum(req, "cursor", enums.ParseCreditTransactionType)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestParseQueryHelpersRejectBadValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=500&active_only=maybe&type=bogus&page=x", nil)

	_, err := ParseQueryInt(req, "limit", 25, 1, 100)
	requireValidation(t, err)
	_, err = ParseQueryInt(req, "page", 1, 1, 10)
	requireValidation(t, err)
	_, err = ParseQueryBool(req, "active_only", false)
	requireValidation(t, err)
	_, err = ParseQueryEnum(req, "type", enums.ParseCreditTransactionType)
	requireValidation(t, err)
}
