package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/linkback/tradeverify/internal/domain"
	"github.com/linkback/tradeverify/internal/verify"
)

// maxFieldBytes bounds the size of non-file form fields.
const maxFieldBytes = 1 << 10

// ClaimService settles a trade through the manual-proof path.
// *verify.ProofClaimService satisfies it.
type ClaimService interface {
	SubmitClaim(ctx context.Context, transactionID string, proof io.Reader, filename, contentType string) (verify.ClaimResult, error)
}

// ClaimHandler accepts streamed proof uploads for secondary reward claims.
type ClaimHandler struct {
	claims ClaimService
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(claims ClaimService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{
		claims: claims,
		logger: logger.With(slog.String("component", "claim_handler")),
	}
}

// SubmitClaim processes a multipart proof upload. The proof part is streamed
// to object storage; it is only spooled to a temporary file when the
// transactionId field arrives after it, and the spool is removed on every
// exit path.
// POST /rewards/claim  (multipart: transactionId, proof)
func (h *ClaimHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, h.logger, r, fmt.Errorf("handler: multipart body required: %w", domain.ErrValidation))
		return
	}

	var (
		transactionID string
		spool         *os.File
		filename      string
		contentType   string
		result        verify.ClaimResult
		submitted     bool
		submitErr     error
	)
	defer func() {
		if spool != nil {
			spool.Close()
			os.Remove(spool.Name())
		}
	}()

	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			writeError(w, h.logger, r, fmt.Errorf("handler: read multipart: %w", domain.ErrValidation))
			return
		}

		switch part.FormName() {
		case "transactionId":
			data, rerr := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			part.Close()
			if rerr != nil {
				writeError(w, h.logger, r, fmt.Errorf("handler: read transactionId: %w", domain.ErrValidation))
				return
			}
			transactionID = strings.TrimSpace(string(data))

		case "proof":
			filename = part.FileName()
			contentType = part.Header.Get("Content-Type")

			if transactionID != "" {
				// Common case: the id arrived first, stream straight through.
				result, submitErr = h.claims.SubmitClaim(r.Context(), transactionID, part, filename, contentType)
				part.Close()
				submitted = true
			} else {
				spool, err = spoolPart(part)
				part.Close()
				if err != nil {
					writeError(w, h.logger, r, fmt.Errorf("handler: spool proof: %w", err))
					return
				}
			}

		default:
			io.Copy(io.Discard, part)
			part.Close()
		}
	}

	if !submitted {
		if transactionID == "" || spool == nil {
			writeError(w, h.logger, r, fmt.Errorf("handler: transactionId and proof required: %w", domain.ErrValidation))
			return
		}
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			writeError(w, h.logger, r, fmt.Errorf("handler: rewind proof spool: %w", err))
			return
		}
		result, submitErr = h.claims.SubmitClaim(r.Context(), transactionID, spool, filename, contentType)
	}

	if submitErr != nil {
		// Adjudicator transport failure relays the generic failure verdict
		// with a 500 instead of internal detail.
		if errors.Is(submitErr, domain.ErrUpstream) {
			h.logger.ErrorContext(r.Context(), "claim adjudication failed",
				slog.String("transaction_id", transactionID),
				slog.String("error", submitErr.Error()),
			)
			writeJSON(w, http.StatusInternalServerError, result)
			return
		}
		writeError(w, h.logger, r, submitErr)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// spoolPart copies a multipart part into a temporary file so the upload can
// be replayed once the transaction id is known.
func spoolPart(part *multipart.Part) (*os.File, error) {
	f, err := os.CreateTemp("", "proof-*")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, part); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return f, nil
}
