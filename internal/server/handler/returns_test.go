package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkback/tradeverify/internal/domain"
)

type stubReturns struct {
	outcome domain.ReturnOutcome
	err     error
	calls   int
}

func (s *stubReturns) Evaluate(ctx context.Context, tradeID string, dwell float64) (domain.ReturnOutcome, error) {
	s.calls++
	return s.outcome, s.err
}

func TestVerifyReturnSuccess(t *testing.T) {
	svc := &stubReturns{outcome: domain.ReturnOutcome{
		TradeID:         "t1",
		Status:          domain.StatusVerified,
		Tier:            domain.TierPartial,
		DwellTime:       30,
		SecondaryReward: 50,
	}}
	h := NewReturnHandler(svc, testLogger())

	rec, req := postJSON("/verify-return", `{"trade_id":"t1","dwell_time":30}`)
	h.VerifyReturn(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Success bool                 `json:"success"`
		Data    domain.ReturnOutcome `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, domain.StatusVerified, env.Data.Status)
	assert.Equal(t, domain.TierPartial, env.Data.Tier)
	assert.Equal(t, 50.0, env.Data.SecondaryReward)
}

func TestVerifyReturnMissingFields(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing dwell_time", `{"trade_id":"t1"}`},
		{"missing trade_id", `{"dwell_time":30}`},
		{"empty body", `{}`},
		{"malformed json", `{not json`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubReturns{}
			h := NewReturnHandler(svc, testLogger())

			rec, req := postJSON("/verify-return", tc.body)
			h.VerifyReturn(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, svc.calls)
		})
	}
}

func TestVerifyReturnZeroDwellIsValid(t *testing.T) {
	svc := &stubReturns{outcome: domain.ReturnOutcome{
		TradeID: "t1",
		Status:  domain.StatusRejected,
		Tier:    domain.TierNone,
	}}
	h := NewReturnHandler(svc, testLogger())

	rec, req := postJSON("/verify-return", `{"trade_id":"t1","dwell_time":0}`)
	h.VerifyReturn(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls, "dwell_time 0 is present, not missing")
}

func TestVerifyReturnConflict(t *testing.T) {
	svc := &stubReturns{err: fmt.Errorf("out of order: %w", domain.ErrConflict)}
	h := NewReturnHandler(svc, testLogger())

	rec, req := postJSON("/verify-return", `{"trade_id":"t1","dwell_time":30}`)
	h.VerifyReturn(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
