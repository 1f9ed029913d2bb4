package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkback/tradeverify/internal/domain"
	"github.com/linkback/tradeverify/internal/verify"
)

type stubClaims struct {
	result verify.ClaimResult
	err    error

	gotTransactionID string
	gotProof         []byte
	gotFilename      string
}

func (s *stubClaims) SubmitClaim(ctx context.Context, transactionID string, proof io.Reader, filename, contentType string) (verify.ClaimResult, error) {
	s.gotTransactionID = transactionID
	s.gotFilename = filename
	data, err := io.ReadAll(proof)
	if err != nil {
		return verify.ClaimResult{}, err
	}
	s.gotProof = data
	return s.result, s.err
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitClaimStreamsProof(t *testing.T) {
	claims := &stubClaims{result: verify.ClaimResult{Success: true, Status: "approved"}}
	h := NewClaimHandler(claims, testLogger())

	body, contentType := multipartBody(t,
		map[string]string{"transactionId": "t1"}, "proof", "receipt.png", []byte("proof-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/rewards/claim", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.SubmitClaim(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", claims.gotTransactionID)
	assert.Equal(t, []byte("proof-bytes"), claims.gotProof)
	assert.Equal(t, "receipt.png", claims.gotFilename)

	var res verify.ClaimResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "approved", res.Status)
}

func TestSubmitClaimProofBeforeTransactionID(t *testing.T) {
	claims := &stubClaims{result: verify.ClaimResult{Success: true, Status: "approved"}}
	h := NewClaimHandler(claims, testLogger())

	// Build the multipart body with the file part first, forcing the handler
	// to spool and replay it.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("proof", "receipt.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("proof-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("transactionId", "t1"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/rewards/claim", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.SubmitClaim(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", claims.gotTransactionID)
	assert.Equal(t, []byte("proof-bytes"), claims.gotProof)
}

func TestSubmitClaimMissingFields(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
		file   bool
	}{
		{"missing proof", map[string]string{"transactionId": "t1"}, false},
		{"missing transactionId", nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := &stubClaims{}
			h := NewClaimHandler(claims, testLogger())

			fileField := ""
			if tc.file {
				fileField = "proof"
			}
			body, contentType := multipartBody(t, tc.fields, fileField, "receipt.png", []byte("proof"))
			req := httptest.NewRequest(http.MethodPost, "/rewards/claim", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			h.SubmitClaim(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, claims.gotTransactionID, "no claim submitted for an invalid request")
		})
	}
}

func TestSubmitClaimNotMultipart(t *testing.T) {
	h := NewClaimHandler(&stubClaims{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/rewards/claim",
		bytes.NewReader([]byte(`{"transactionId":"t1"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SubmitClaim(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitClaimAdjudicatorFailureReturnsGenericVerdict(t *testing.T) {
	claims := &stubClaims{
		result: verify.ClaimResult{Success: false, Status: verify.VerdictFailed},
		err:    fmt.Errorf("verify: adjudicate t1: %w", domain.ErrUpstream),
	}
	h := NewClaimHandler(claims, testLogger())

	body, contentType := multipartBody(t,
		map[string]string{"transactionId": "t1"}, "proof", "receipt.png", []byte("proof"))
	req := httptest.NewRequest(http.MethodPost, "/rewards/claim", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.SubmitClaim(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var res verify.ClaimResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, verify.VerdictFailed, res.Status)
}

func TestSubmitClaimConflict(t *testing.T) {
	claims := &stubClaims{err: fmt.Errorf("verify: already settled: %w", domain.ErrConflict)}
	h := NewClaimHandler(claims, testLogger())

	body, contentType := multipartBody(t,
		map[string]string{"transactionId": "t1"}, "proof", "receipt.png", []byte("proof"))
	req := httptest.NewRequest(http.MethodPost, "/rewards/claim", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.SubmitClaim(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
